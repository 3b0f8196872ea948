package extract

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

func genaiResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(text)}},
		}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 50, CandidatesTokenCount: 10, TotalTokenCount: 60},
	}
}

func TestVertexExtract(t *testing.T) {
	var calls []bool
	call := func(ctx context.Context, structured bool, parts []genai.Part) (*genai.GenerateContentResponse, error) {
		calls = append(calls, structured)
		if len(parts) != 2 {
			t.Fatalf("expected prompt and blob parts, got %d", len(parts))
		}
		if blob, ok := parts[1].(genai.Blob); !ok || blob.MIMEType != "application/pdf" {
			t.Fatalf("expected pdf blob part, got %#v", parts[1])
		}
		return genaiResponse(`{"items":[{"page":4,"text":"Data is encrypted at rest.","type":"security","confidence":0.95}]}`), nil
	}
	v := newVertex(VertexConfig{Model: "gemini-test"}, call, nil)

	res, err := v.Extract(context.Background(), Request{
		DocumentID:  uuid.New(),
		PageNumbers: []int{4},
		Content:     Content{Bytes: []byte("%PDF"), MIMEType: "application/pdf"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(calls) != 1 || !calls[0] {
		t.Fatalf("expected a single structured call, got %v", calls)
	}
	if len(res.Items) != 1 || res.Items[0].Type != "security" || res.Usage.TotalTokens != 60 || res.Model != "gemini-test" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestVertexFallback(t *testing.T) {
	var calls []bool
	call := func(ctx context.Context, structured bool, parts []genai.Part) (*genai.GenerateContentResponse, error) {
		calls = append(calls, structured)
		if structured {
			return nil, ErrStructuredOutputUnsupported
		}
		return genaiResponse("```json\n{\"items\":[]}\n```"), nil
	}
	v := newVertex(VertexConfig{}, call, nil)
	res, err := v.Extract(context.Background(), Request{
		DocumentID:  uuid.New(),
		PageNumbers: []int{1},
		Content:     Content{Texts: []PageText{{Page: 1, Text: "Intro"}}},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(calls) != 2 || calls[0] != true || calls[1] != false {
		t.Fatalf("expected structured then plain call, got %v", calls)
	}
	if res.Structured || len(res.Items) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestVertexProviderError(t *testing.T) {
	boom := errors.New("deadline exceeded")
	call := func(context.Context, bool, []genai.Part) (*genai.GenerateContentResponse, error) { return nil, boom }
	v := newVertex(VertexConfig{}, call, nil)
	_, err := v.Extract(context.Background(), Request{
		DocumentID:  uuid.New(),
		PageNumbers: []int{1},
		Content:     Content{Texts: []PageText{{Page: 1, Text: "x"}}},
	})
	if !errors.Is(err, common.ErrProvider) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
}

func TestRejectsResponseSchema(t *testing.T) {
	if !rejectsResponseSchema(errors.New("rpc error: code = InvalidArgument desc = response_schema is not supported for this model")) {
		t.Fatal("expected response_schema rejection to be recognized")
	}
	if rejectsResponseSchema(errors.New("quota exceeded")) {
		t.Fatal("quota error must not trigger fallback")
	}
}
