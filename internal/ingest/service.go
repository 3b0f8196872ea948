// Package ingest registers uploaded documents and queues their pages.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/blob"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
	"github.com/joseph-ayodele/requirements-intake/internal/pipeline"
	"github.com/joseph-ayodele/requirements-intake/internal/repository"
)

// Ticker runs one processing tick. *pipeline.Processor satisfies it.
type Ticker interface {
	Tick(ctx context.Context) (pipeline.TickResult, error)
}

// Request describes a document that already sits in the blob store.
// Pages and ContentHash are optional; when Pages is nil the object is
// downloaded to count pages and hash it.
type Request struct {
	ProjectID    uuid.UUID `json:"project_id"`
	Name         string    `json:"name"`
	Bucket       string    `json:"bucket"`
	Path         string    `json:"path"`
	MIMEType     string    `json:"mime_type,omitempty"`
	Pages        *int      `json:"pages,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
	LanguageHint string    `json:"language_hint,omitempty"`
	UserID       string    `json:"-"`
	UserEmail    string    `json:"-"`
}

type Result struct {
	Document *entity.Document     `json:"document"`
	Ticks    []pipeline.TickResult `json:"ticks"`
}

type Options struct {
	MaxPages        int            // default 100
	DailyLimit      int            // default 2, 0 means unlimited
	LimitExceptions map[string]int // user id or email -> limit
	TickAttempts    int            // default 3
	DefaultBucket   string
}

type Service struct {
	log       *slog.Logger
	documents repository.DocumentRepository
	blobs     blob.Store
	ticker    Ticker
	opts      Options
	now       func() time.Time
}

func NewService(logger *slog.Logger, repos *repository.Repositories, blobs blob.Store, ticker Ticker, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 100
	}
	if opts.TickAttempts <= 0 {
		opts.TickAttempts = 3
	}
	exceptions := make(map[string]int, len(opts.LimitExceptions))
	for k, v := range opts.LimitExceptions {
		exceptions[strings.ToLower(strings.TrimSpace(k))] = v
	}
	opts.LimitExceptions = exceptions
	return &Service{
		log:       logger,
		documents: repos.Documents,
		blobs:     blobs,
		ticker:    ticker,
		opts:      opts,
		now:       time.Now,
	}
}

// Ingest validates the request, enforces the caller's daily quota, creates
// the document with all pages queued and then runs a few ticks so small
// documents finish before the call returns.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.Bucket == "" {
		req.Bucket = s.opts.DefaultBucket
	}
	if req.MIMEType == "" {
		req.MIMEType = constants.MIMEForPath(req.Path)
	}
	v := common.NewValidator().
		Field("project_id", req.ProjectID, common.Required).
		Field("name", req.Name, common.Required, common.MaxLength(512)).
		Field("path", req.Path, common.Required).
		Field("pages", req.Pages, common.IntRange(1, s.opts.MaxPages)).
		Field("language_hint", req.LanguageHint, common.MaxLength(32))
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}

	if err := s.checkQuota(ctx, req.UserID, req.UserEmail); err != nil {
		return nil, err
	}

	pages, hash, err := s.measure(ctx, req)
	if err != nil {
		return nil, err
	}
	if pages < 1 || pages > s.opts.MaxPages {
		return nil, common.InvalidArgumentErrorf("page count %d outside [1, %d]", pages, s.opts.MaxPages)
	}

	doc := &entity.Document{
		ProjectID:     req.ProjectID,
		Name:          strings.TrimSpace(req.Name),
		StorageBucket: req.Bucket,
		StoragePath:   req.Path,
		MIMEType:      req.MIMEType,
		PageCount:     pages,
		Status:        constants.DocumentQueued,
	}
	if hash != "" {
		doc.ContentHash = &hash
	}
	if hint := strings.TrimSpace(req.LanguageHint); hint != "" {
		doc.LanguageHint = &hint
	}
	if req.UserID != "" {
		uid := req.UserID
		doc.CreatedBy = &uid
	}
	if _, err := s.documents.CreateWithPages(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	s.log.Info("ingest.document.created",
		"document_id", doc.ID,
		"project_id", doc.ProjectID,
		"page_count", pages,
		"user_id", req.UserID,
	)

	res := &Result{Document: doc, Ticks: s.runTicks(ctx, doc.ID)}
	if fresh, err := s.documents.Get(ctx, doc.ID); err == nil {
		res.Document = fresh
	} else {
		s.log.Warn("ingest.document.reload_failed", "document_id", doc.ID, "error", err)
	}
	return res, nil
}

// runTicks stops as soon as a tick makes no progress or reports an error.
func (s *Service) runTicks(ctx context.Context, docID uuid.UUID) []pipeline.TickResult {
	if s.ticker == nil {
		return nil
	}
	var out []pipeline.TickResult
	for i := 0; i < s.opts.TickAttempts; i++ {
		res, err := s.ticker.Tick(ctx)
		if err != nil {
			s.log.Warn("ingest.tick.failed", "document_id", docID, "attempt", i+1, "error", err)
			break
		}
		out = append(out, res)
		if res.Status == constants.TickIdle || res.ProcessedBatches == 0 || len(res.Errors) > 0 {
			break
		}
	}
	s.log.Info("ingest.ticks.done", "document_id", docID, "ticks", len(out))
	return out
}

func (s *Service) measure(ctx context.Context, req Request) (int, string, error) {
	if req.Pages != nil {
		return *req.Pages, req.ContentHash, nil
	}
	data, err := s.blobs.Download(ctx, req.Bucket, req.Path)
	if err != nil {
		s.log.Error("ingest.download.failed", "bucket", req.Bucket, "path", req.Path, "error", err)
		return 0, "", fmt.Errorf("download %s: %w", req.Path, err)
	}
	pages, err := CountPages(data, req.MIMEType)
	if err != nil {
		return 0, "", err
	}
	hash := req.ContentHash
	if hash == "" {
		hash = HashContent(data)
	}
	return pages, hash, nil
}

// LimitFor resolves the caller's daily limit. Exceptions match the user id
// first, then the email; 0 means unlimited.
func (s *Service) LimitFor(userID, email string) int {
	if n, ok := s.opts.LimitExceptions[strings.ToLower(userID)]; ok && userID != "" {
		return n
	}
	if n, ok := s.opts.LimitExceptions[strings.ToLower(email)]; ok && email != "" {
		return n
	}
	return s.opts.DailyLimit
}

// checkQuota counts documents created by the user since UTC midnight.
// Anonymous callers (operator tools) are not limited.
func (s *Service) checkQuota(ctx context.Context, userID, email string) error {
	if userID == "" {
		return nil
	}
	limit := s.LimitFor(userID, email)
	if limit == 0 {
		return nil
	}
	midnight := utcMidnight(s.now())
	used, err := s.documents.CountCreatedSince(ctx, userID, midnight)
	if err != nil {
		return fmt.Errorf("count uploads: %w", err)
	}
	if used >= limit {
		s.log.Warn("ingest.quota.exceeded", "user_id", userID, "limit", limit, "used", used)
		return &common.LimitError{Limit: limit, Used: used, ResetAt: midnight.Add(24 * time.Hour)}
	}
	return nil
}

func utcMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Requeue resets a document's failed pages to queued. It is an operator
// action; the pipeline never retries on its own.
func (s *Service) Requeue(ctx context.Context, documentID uuid.UUID) (int, error) {
	if _, err := s.documents.Get(ctx, documentID); err != nil {
		return 0, err
	}
	n, err := s.documents.RequeueFailed(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, common.NewAppError("NOTHING_TO_REQUEUE", "document has no failed pages", common.ErrConflict)
	}
	s.log.Info("ingest.document.requeued", "document_id", documentID, "pages", n)
	return n, nil
}

// Hide soft-hides a document from active lists, or restores it.
func (s *Service) Hide(ctx context.Context, documentID uuid.UUID, hidden bool) error {
	if err := s.documents.SetHidden(ctx, documentID, hidden); err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			s.log.Error("ingest.document.hide_failed", "document_id", documentID, "error", err)
		}
		return err
	}
	s.log.Info("ingest.document.hidden", "document_id", documentID, "hidden", hidden)
	return nil
}
