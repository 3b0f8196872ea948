package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/blob"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/dedup"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
	"github.com/joseph-ayodele/requirements-intake/internal/export"
	"github.com/joseph-ayodele/requirements-intake/internal/extract"
	"github.com/joseph-ayodele/requirements-intake/internal/ingest"
	"github.com/joseph-ayodele/requirements-intake/internal/metrics"
	"github.com/joseph-ayodele/requirements-intake/internal/pipeline"
	"github.com/joseph-ayodele/requirements-intake/internal/review"
	"github.com/joseph-ayodele/requirements-intake/internal/testsupport"
)

const testBucket = "intake-test"

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: f.allow, RetryAfter: 30 * time.Second}, nil
}

type env struct {
	handler http.Handler
	blobs   *blob.Memory
}

func newEnv(t *testing.T, cfg common.ServerConfig, ingestOpts ingest.Options, limiter RateLimiter) *env {
	t.Helper()
	db, repos := testsupport.MustOpenStore(t)
	blobs := blob.NewMemory()
	provider := extract.ProviderFunc(func(ctx context.Context, req extract.Request) (*extract.Result, error) {
		items := make([]extract.Item, 0, len(req.PageNumbers))
		for _, n := range req.PageNumbers {
			items = append(items, extract.Item{
				Page:       n,
				Text:       fmt.Sprintf("The system shall support capability number %d.", n),
				Type:       "functional",
				Confidence: 0.9,
			})
		}
		return &extract.Result{Items: items, Provider: "fake", Model: "fake-1", Structured: true}, nil
	})
	proc := pipeline.NewProcessor(testsupport.Logger(), repos, blobs, provider, pipeline.Options{})
	ingestOpts.DefaultBucket = testBucket
	srv := New(cfg, Deps{
		Ticker:  proc,
		Ingest:  ingest.NewService(testsupport.Logger(), repos, blobs, proc, ingestOpts),
		Review:  review.NewService(repos, dedup.DefaultOptions(), testsupport.Logger()),
		Export:  export.NewService(repos, dedup.DefaultOptions(), testsupport.Logger()),
		Repos:   repos,
		Health:  db,
		Metrics: metrics.New(),
		Limiter: limiter,
	}, testsupport.Logger())
	return &env{handler: srv.Handler(), blobs: blobs}
}

func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *env) upload(t *testing.T, name string, user string) *httptest.ResponseRecorder {
	t.Helper()
	path := "uploads/" + name
	e.blobs.Put(testBucket, path, []byte("Login with email.\fReset password.\fExport reports."))
	return e.do(t, http.MethodPost, "/v1/projects/"+uuid.NewString()+"/documents",
		map[string]any{"name": name, "path": path, "mime_type": "text/plain"},
		map[string]string{headerUserID: user})
}

func TestIngestReviewAndExportFlow(t *testing.T) {
	e := newEnv(t, common.ServerConfig{}, ingest.Options{DailyLimit: 5}, nil)

	rec := e.upload(t, "srs.txt", "alice")
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest status %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[ingest.Result](t, rec)
	if res.Document.Status != constants.DocumentCompleted || res.Document.PageCount != 3 {
		t.Fatalf("unexpected document %+v", res.Document)
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("missing request id header")
	}
	docPath := "/v1/documents/" + res.Document.ID.String()

	rec = e.do(t, http.MethodGet, docPath+"/candidates?status=draft", nil, nil)
	cands := decode[struct {
		Candidates []entity.Candidate `json:"candidates"`
	}](t, rec)
	if rec.Code != http.StatusOK || len(cands.Candidates) != 3 {
		t.Fatalf("candidates %d: %s", rec.Code, rec.Body.String())
	}

	approvePath := "/v1/candidates/" + cands.Candidates[0].ID.String() + "/approve"
	rec = e.do(t, http.MethodPost, approvePath, map[string]string{"title": "Email login"}, map[string]string{headerUserID: "bob"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("approve status %d: %s", rec.Code, rec.Body.String())
	}
	approval := decode[review.Approval](t, rec)
	if approval.Requirement.CreatedBy == nil || *approval.Requirement.CreatedBy != "bob" {
		t.Fatalf("expected reviewer recorded, got %+v", approval.Requirement)
	}
	rec = e.do(t, http.MethodPost, approvePath, map[string]string{"title": "Email login"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second approve status %d, want 409", rec.Code)
	}

	rec = e.do(t, http.MethodGet, docPath+"/events", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"success"`) {
		t.Fatalf("events %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, docPath+"/export.xlsx", nil, nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != xlsxContentType || rec.Body.Len() == 0 {
		t.Fatalf("export status %d type %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = e.do(t, http.MethodPost, docPath+"/hide", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("hide status %d: %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodGet, "/v1/projects/"+res.Document.ProjectID.String()+"/documents", nil, nil)
	if !strings.Contains(rec.Body.String(), `"documents":[]`) {
		t.Fatalf("hidden document still listed: %s", rec.Body.String())
	}
}

func TestIngestQuotaReturnsLimitDetails(t *testing.T) {
	e := newEnv(t, common.ServerConfig{}, ingest.Options{DailyLimit: 1}, nil)
	if rec := e.upload(t, "a.txt", "carol"); rec.Code != http.StatusCreated {
		t.Fatalf("first ingest status %d: %s", rec.Code, rec.Body.String())
	}
	rec := e.upload(t, "b.txt", "carol")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second ingest status %d, want 429", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if body.Code != "LIMIT_REACHED" || body.Limit == nil || *body.Limit != 1 || body.Used == nil || *body.Used != 1 || body.ResetAt == "" {
		t.Fatalf("unexpected limit body %+v", body)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}

func TestSecretsGuardTickAndRequeue(t *testing.T) {
	e := newEnv(t, common.ServerConfig{TriggerSecret: "tick-secret"}, ingest.Options{}, nil)

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		want    int
	}{
		{"tick without secret", http.MethodPost, "/v1/tick", nil, http.StatusUnauthorized},
		{"tick wrong secret", http.MethodPost, "/v1/tick", map[string]string{headerTriggerSecret: "nope"}, http.StatusUnauthorized},
		{"tick header secret", http.MethodPost, "/v1/tick", map[string]string{headerTriggerSecret: "tick-secret"}, http.StatusOK},
		{"tick bearer secret", http.MethodPost, "/v1/tick", map[string]string{"Authorization": "Bearer tick-secret"}, http.StatusOK},
		{"requeue locked without admin secret", http.MethodPost, "/v1/documents/" + uuid.NewString() + "/requeue", map[string]string{headerAdminSecret: ""}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.method, tt.path, nil, tt.headers)
			if rec.Code != tt.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	rec := e.do(t, http.MethodPost, "/v1/tick", nil, map[string]string{headerTriggerSecret: "tick-secret"})
	res := decode[pipeline.TickResult](t, rec)
	if res.Status != constants.TickIdle {
		t.Fatalf("expected idle tick, got %+v", res)
	}
}

func TestTickResponseKeys(t *testing.T) {
	e := newEnv(t, common.ServerConfig{TriggerSecret: "tick-secret"}, ingest.Options{}, nil)
	rec := e.do(t, http.MethodPost, "/v1/tick", nil, map[string]string{headerTriggerSecret: "tick-secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]json.RawMessage](t, rec)
	for _, key := range []string{"status", "processedBatches", "candidatesInserted", "errors"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response %s lacks %q", rec.Body.String(), key)
		}
	}
	if got := string(body["errors"]); got != "[]" {
		t.Fatalf("errors = %s, want an empty array", got)
	}
	if got := string(body["status"]); got != `"idle"` {
		t.Fatalf("status = %s, want idle", got)
	}
}

func TestRequeueWithAdminSecret(t *testing.T) {
	e := newEnv(t, common.ServerConfig{AdminSecret: "admin"}, ingest.Options{}, nil)
	rec := e.upload(t, "done.txt", "dave")
	res := decode[ingest.Result](t, rec)

	rec = e.do(t, http.MethodPost, "/v1/documents/"+res.Document.ID.String()+"/requeue", nil, map[string]string{headerAdminSecret: "admin"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("requeue of a completed document status %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t, common.ServerConfig{}, ingest.Options{}, nil)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad uuid", http.MethodGet, "/v1/documents/not-a-uuid", nil, http.StatusBadRequest},
		{"missing document", http.MethodGet, "/v1/documents/" + uuid.NewString(), nil, http.StatusNotFound},
		{"missing candidate", http.MethodPost, "/v1/candidates/" + uuid.NewString() + "/reject", nil, http.StatusNotFound},
		{"unknown field", http.MethodPatch, "/v1/candidates/" + uuid.NewString(), map[string]string{"colour": "red"}, http.StatusBadRequest},
		{"bad threshold", http.MethodGet, "/v1/documents/" + uuid.NewString() + "/duplicates?threshold=abc", nil, http.StatusBadRequest},
		{"missing object", http.MethodPost, "/v1/projects/" + uuid.NewString() + "/documents", map[string]string{"name": "x.pdf", "path": "nowhere.pdf"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.method, tt.path, tt.body, nil)
			if rec.Code != tt.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRateLimitAndHealth(t *testing.T) {
	e := newEnv(t, common.ServerConfig{}, ingest.Options{}, fakeLimiter{allow: false})

	rec := e.do(t, http.MethodGet, "/v1/documents/"+uuid.NewString(), nil, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "31" {
		t.Fatalf("status %d retry %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := e.do(t, http.MethodGet, path, nil, nil); rec.Code != http.StatusOK {
			t.Fatalf("%s status %d", path, rec.Code)
		}
	}
}
