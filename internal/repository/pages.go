package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
)

const tablePages = "document_pages"

var pageColumns = []string{
	"id", "document_id", "page_number", "status", "extracted_text", "ocr_confidence",
	"error_message", "processed_at", "created_at", "updated_at",
}

type PageRepository interface {
	// GetQueued returns queued pages across all documents, oldest first.
	GetQueued(ctx context.Context, limit int) ([]entity.Page, error)
	// Claim flips the given pages from queued to processing in one conditional
	// update and returns only the pages this call won.
	Claim(ctx context.Context, ids []uuid.UUID) ([]entity.Page, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, confidence *float64, text *string) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	// HasActive reports whether any page of the document is queued or processing.
	HasActive(ctx context.Context, documentID uuid.UUID) (bool, error)
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]entity.Page, error)
}

type pageRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewPageRepository(db *DB, logger *slog.Logger) PageRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &pageRepo{db: db, log: logger, now: time.Now}
}

func insertPages(ctx context.Context, db *DB, q querier, documentID uuid.UUID, count int, now time.Time) ([]entity.Page, error) {
	if count < 1 {
		return nil, fmt.Errorf("insert pages: count must be positive, got %d", count)
	}
	now = now.UTC()
	ins := db.builder().Insert(tablePages).
		Columns("id", "document_id", "page_number", "status", "created_at", "updated_at")
	pages := make([]entity.Page, 0, count)
	for n := 1; n <= count; n++ {
		p := entity.Page{
			ID:         uuid.New(),
			DocumentID: documentID,
			PageNumber: n,
			Status:     constants.PageQueued,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		ins.Values(p.ID, p.DocumentID, p.PageNumber, string(p.Status), db.ts(now), db.ts(now))
		pages = append(pages, p)
	}
	query, args := ins.Query()
	if _, err := db.exec(ctx, q, query, args...); err != nil {
		return nil, fmt.Errorf("insert pages: %w", err)
	}
	return pages, nil
}

func (r *pageRepo) GetQueued(ctx context.Context, limit int) ([]entity.Page, error) {
	b := r.db.builder()
	query, args := b.Select(pageColumns...).
		From(b.Table(tablePages)).
		Where(entsql.EQ("status", string(constants.PageQueued))).
		OrderBy("created_at", "document_id", "page_number").
		Limit(limit).
		Query()
	return r.list(ctx, query, args)
}

func (r *pageRepo) Claim(ctx context.Context, ids []uuid.UUID) ([]entity.Page, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	token := uuid.New()
	idArgs := make([]any, len(ids))
	for i, id := range ids {
		idArgs[i] = id
	}
	query, args := r.db.builder().Update(tablePages).
		Set("status", string(constants.PageProcessing)).
		Set("claim_token", token).
		Set("updated_at", r.db.ts(r.now())).
		Where(entsql.And(
			entsql.In("id", idArgs...),
			entsql.EQ("status", string(constants.PageQueued)),
		)).
		Query()
	res, err := r.db.exec(ctx, r.db.sql, query, args...)
	if err != nil {
		r.log.Error("pages.claim.failed", "count", len(ids), "error", err)
		return nil, fmt.Errorf("claim pages: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		r.log.Info("pages.claim.lost", "requested", len(ids))
		return nil, nil
	}

	b := r.db.builder()
	query, args = b.Select(pageColumns...).
		From(b.Table(tablePages)).
		Where(entsql.EQ("claim_token", token)).
		OrderBy("page_number").
		Query()
	pages, err := r.list(ctx, query, args)
	if err != nil {
		return nil, err
	}
	r.log.Info("pages.claimed", "requested", len(ids), "claimed", len(pages))
	return pages, nil
}

func (r *pageRepo) MarkProcessed(ctx context.Context, id uuid.UUID, confidence *float64, text *string) error {
	now := r.now()
	u := r.db.builder().Update(tablePages).
		Set("status", string(constants.PageProcessed)).
		Set("processed_at", r.db.ts(now)).
		Set("updated_at", r.db.ts(now)).
		SetNull("error_message")
	if confidence != nil {
		u.Set("ocr_confidence", *confidence)
	} else {
		u.SetNull("ocr_confidence")
	}
	if text != nil {
		u.Set("extracted_text", *text)
	} else {
		u.SetNull("extracted_text")
	}
	query, args := u.Where(entsql.EQ("id", id)).Query()
	if _, err := r.db.exec(ctx, r.db.sql, query, args...); err != nil {
		r.log.Error("page.mark_processed.failed", "page_id", id, "error", err)
		return fmt.Errorf("mark page processed: %w", err)
	}
	return nil
}

func (r *pageRepo) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	now := r.now()
	query, args := r.db.builder().Update(tablePages).
		Set("status", string(constants.PageFailed)).
		Set("error_message", message).
		Set("processed_at", r.db.ts(now)).
		Set("updated_at", r.db.ts(now)).
		Where(entsql.EQ("id", id)).
		Query()
	if _, err := r.db.exec(ctx, r.db.sql, query, args...); err != nil {
		r.log.Error("page.mark_failed.failed", "page_id", id, "error", err)
		return fmt.Errorf("mark page failed: %w", err)
	}
	r.log.Warn("page.failed", "page_id", id, "error", message)
	return nil
}

func (r *pageRepo) HasActive(ctx context.Context, documentID uuid.UUID) (bool, error) {
	b := r.db.builder()
	query, args := b.Select("COUNT(*)").
		From(b.Table(tablePages)).
		Where(entsql.And(
			entsql.EQ("document_id", documentID),
			entsql.In("status", string(constants.PageQueued), string(constants.PageProcessing)),
		)).
		Query()
	var n int
	if err := r.db.sql.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("count active pages: %w", err)
	}
	return n > 0, nil
}

func (r *pageRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]entity.Page, error) {
	b := r.db.builder()
	query, args := b.Select(pageColumns...).
		From(b.Table(tablePages)).
		Where(entsql.EQ("document_id", documentID)).
		OrderBy("page_number").
		Query()
	return r.list(ctx, query, args)
}

func (r *pageRepo) list(ctx context.Context, query string, args []any) ([]entity.Page, error) {
	rows, err := r.db.query(ctx, r.db.sql, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()
	out := []entity.Page{}
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPage(s rowScanner) (entity.Page, error) {
	var (
		p                entity.Page
		status           string
		text, errMsg     sql.NullString
		conf             sql.NullFloat64
		processed        dbTime
		created, updated dbTime
	)
	if err := s.Scan(&p.ID, &p.DocumentID, &p.PageNumber, &status, &text, &conf,
		&errMsg, &processed, &created, &updated); err != nil {
		return entity.Page{}, fmt.Errorf("scan page: %w", err)
	}
	p.Status = constants.PageStatus(status)
	p.ExtractedText = strPtr(text)
	p.OCRConfidence = floatPtr(conf)
	p.ErrorMessage = strPtr(errMsg)
	p.ProcessedAt = processed.ptr()
	p.CreatedAt = created.Time
	p.UpdatedAt = updated.Time
	return p, nil
}
