package extract

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

type recordedRequest struct {
	Auth string
	Body map[string]any
}

func fakeOpenAI(t *testing.T, handler func(n int, body map[string]any) (int, string)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{Auth: r.Header.Get("Authorization"), Body: body})
		n := len(reqs)
		mu.Unlock()
		status, resp := handler(n, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		"usage":   map[string]any{"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120},
	})
	return string(b)
}

func pdfRequest() Request {
	return Request{
		DocumentID:  uuid.New(),
		PageNumbers: []int{1, 2},
		Content:     Content{Bytes: []byte("%PDF-1.7 fake"), MIMEType: "application/pdf"},
	}
}

func TestOpenAIStructuredSuccess(t *testing.T) {
	srv, reqs := fakeOpenAI(t, func(n int, body map[string]any) (int, string) {
		return http.StatusOK, completion(`{"items":[{"page":1,"text":"The system shall email invoices.","type":"functional","confidence":0.8,"rationale":"uses shall"}]}`)
	})
	c := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "m1", Timeout: 5 * time.Second}, nil)

	res, err := c.Extract(context.Background(), pdfRequest())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Rationale != "uses shall" || !res.Structured {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Usage.TotalTokens != 120 || res.Provider != "openai" || res.Model != "m1" {
		t.Fatalf("unexpected metadata %+v", res)
	}

	if len(*reqs) != 1 {
		t.Fatalf("expected one request, got %d", len(*reqs))
	}
	got := (*reqs)[0]
	if got.Auth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", got.Auth)
	}
	rf, ok := got.Body["response_format"].(map[string]any)
	if !ok || rf["type"] != "json_schema" {
		t.Fatalf("expected json_schema response_format, got %v", got.Body["response_format"])
	}
	msgs := got.Body["messages"].([]any)
	user := msgs[1].(map[string]any)["content"].([]any)
	file := user[1].(map[string]any)
	if file["type"] != "file" {
		t.Fatalf("expected file part, got %v", file["type"])
	}
	data := file["file"].(map[string]any)["file_data"].(string)
	if !strings.HasPrefix(data, "data:application/pdf;base64,") {
		t.Fatalf("unexpected file_data prefix %q", data[:30])
	}
}

func TestOpenAIFallsBackWithoutStructuredOutput(t *testing.T) {
	srv, reqs := fakeOpenAI(t, func(n int, body map[string]any) (int, string) {
		if _, structured := body["response_format"]; structured {
			return http.StatusBadRequest, `{"error":{"message":"Invalid parameter: 'response_format' of type 'json_schema' is not supported with this model."}}`
		}
		return http.StatusOK, completion("Sure! ```json\n{\"items\":[{\"page\":2,\"text\":\"Backups run nightly.\",\"confidence\":0.4}]}\n```")
	})
	c := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, nil)

	res, err := c.Extract(context.Background(), pdfRequest())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(*reqs) != 2 {
		t.Fatalf("expected exactly one retry, got %d requests", len(*reqs))
	}
	if res.Structured || len(res.Items) != 1 || res.Items[0].Page != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestOpenAIErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		calls   int
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, common.ErrProvider, 1},
		{"plain bad request does not retry", http.StatusBadRequest, `{"error":"context length"}`, common.ErrProvider, 1},
		{"prose only", http.StatusOK, completion("I am unable to help with that."), common.ErrMalformedResponse, 1},
		{"no choices", http.StatusOK, `{"choices":[]}`, common.ErrMalformedResponse, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, reqs := fakeOpenAI(t, func(int, map[string]any) (int, string) { return tt.status, tt.body })
			c := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, nil)
			_, err := c.Extract(context.Background(), pdfRequest())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if len(*reqs) != tt.calls {
				t.Fatalf("expected %d calls, got %d", tt.calls, len(*reqs))
			}
		})
	}
}

func TestOpenAIRejectsInvalidContent(t *testing.T) {
	c := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := c.Extract(context.Background(), Request{DocumentID: uuid.New(), PageNumbers: []int{1}})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUserPartsForTextsAndImages(t *testing.T) {
	req := Request{
		DocumentID:  uuid.New(),
		PageNumbers: []int{3},
		Content:     Content{Texts: []PageText{{Page: 3, Text: "REQ-7 The portal shall support SSO."}}},
	}
	parts := userParts(req)
	if len(parts) != 1 || !strings.Contains(parts[0]["text"].(string), "--- Page 3 ---") {
		t.Fatalf("expected inline page text, got %v", parts)
	}

	req.Content = Content{Images: []PageImage{{Page: 3, MIMEType: "image/png", Data: []byte{1, 2}}}}
	parts = userParts(req)
	if len(parts) != 3 || parts[2]["type"] != "image_url" {
		t.Fatalf("expected label and image parts, got %v", parts)
	}
}

func TestNewProviderConfigErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, common.ProviderConfig{Name: "llama"}, nil); !errors.Is(err, common.ErrConfig) {
		t.Fatalf("expected config error for unknown provider, got %v", err)
	}
	if _, err := New(ctx, common.ProviderConfig{Name: "openai"}, nil); !errors.Is(err, common.ErrConfig) {
		t.Fatalf("expected config error for missing key, got %v", err)
	}
	if _, err := New(ctx, common.ProviderConfig{Name: "vertex"}, nil); !errors.Is(err, common.ErrConfig) {
		t.Fatalf("expected config error for missing project, got %v", err)
	}
	p, err := New(ctx, common.ProviderConfig{Name: "openai", APIKey: "k"}, nil)
	if err != nil || p == nil {
		t.Fatalf("expected openai provider, got %v", err)
	}
}
