// Package server exposes the intake pipeline over HTTP and serves the gRPC
// health protocol.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/requirements-intake/internal/async"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/export"
	"github.com/joseph-ayodele/requirements-intake/internal/ingest"
	"github.com/joseph-ayodele/requirements-intake/internal/metrics"
	"github.com/joseph-ayodele/requirements-intake/internal/pipeline"
	"github.com/joseph-ayodele/requirements-intake/internal/repository"
	"github.com/joseph-ayodele/requirements-intake/internal/review"
)

type Ticker interface {
	Tick(ctx context.Context) (pipeline.TickResult, error)
}

// Enqueuer hands a tick to the background workers.
type Enqueuer interface {
	TryEnqueue(job async.Job) bool
}

type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Deps are the collaborators behind the routes. Queue, Metrics, Limiter and
// Health are optional.
type Deps struct {
	Ticker  Ticker
	Queue   Enqueuer
	Ingest  *ingest.Service
	Review  *review.Service
	Export  *export.Service
	Repos   *repository.Repositories
	Health  HealthChecker
	Metrics *metrics.Metrics
	Limiter RateLimiter
}

type Server struct {
	cfg    common.ServerConfig
	deps   Deps
	logger *slog.Logger
}

func New(cfg common.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, deps: deps, logger: logger}
}

// Handler builds the route table and wraps it in the middleware chain:
// recover, request context, access log, rate limit, timeout, metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	mux.HandleFunc("POST /v1/tick", requireSecret(s.cfg.TriggerSecret, headerTriggerSecret, s.logger, s.tick))

	mux.HandleFunc("POST /v1/projects/{projectID}/documents", s.ingestDocument)
	mux.HandleFunc("GET /v1/projects/{projectID}/documents", s.listDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", s.getDocument)
	mux.HandleFunc("GET /v1/documents/{id}/pages", s.listPages)
	mux.HandleFunc("GET /v1/documents/{id}/events", s.listEvents)
	mux.HandleFunc("GET /v1/documents/{id}/candidates", s.listCandidates)
	mux.HandleFunc("GET /v1/documents/{id}/duplicates", s.duplicates)
	mux.HandleFunc("GET /v1/documents/{id}/export.xlsx", s.exportXLSX)
	mux.HandleFunc("POST /v1/documents/{id}/hide", s.hideDocument)
	mux.HandleFunc("POST /v1/documents/{id}/requeue", requireSecret(s.cfg.AdminSecret, headerAdminSecret, s.logger, s.requeue))

	mux.HandleFunc("PATCH /v1/candidates/{id}", s.updateCandidate)
	mux.HandleFunc("POST /v1/candidates/{id}/approve", s.approveCandidate)
	mux.HandleFunc("POST /v1/candidates/{id}/reject", s.rejectCandidate)

	var inner http.Handler = mux
	if s.deps.Metrics != nil {
		inner = s.deps.Metrics.Middleware(mux)
	}
	return chain(inner,
		recoverPanics(s.logger),
		requestContext(s.logger),
		accessLog(s.logger),
		rateLimit(s.deps.Limiter, s.logger),
		withTimeout(s.cfg.RequestTimeout),
	)
}

// TickHandler serves only the trigger-protected tick, for hosts that route a
// single function to it.
func (s *Server) TickHandler() http.Handler {
	return chain(requireSecret(s.cfg.TriggerSecret, headerTriggerSecret, s.logger, s.tick),
		recoverPanics(s.logger),
		requestContext(s.logger),
		accessLog(s.logger),
		withTimeout(s.cfg.RequestTimeout),
	)
}

// HTTPServer returns a configured *http.Server for the daemon.
func (s *Server) HTTPServer() *http.Server {
	writeTimeout := s.cfg.RequestTimeout
	if writeTimeout > 0 {
		writeTimeout += 10 * time.Second
	}
	return &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.HealthCheck(r.Context(), 2*time.Second); err != nil {
			common.LoggerFrom(r.Context(), s.logger).Warn("http.readyz.failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// tick runs one tick inline, or hands it to the workers with ?async=true.
func (s *Server) tick(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" && s.deps.Queue != nil {
		queued := s.deps.Queue.TryEnqueue(async.Job{
			Reason:    "trigger",
			RequestID: common.RequestIDFromContext(r.Context()),
		})
		writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
		return
	}
	res, err := s.deps.Ticker.Tick(r.Context())
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
