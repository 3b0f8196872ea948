package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
)

const tableDocuments = "documents"

var documentColumns = []string{
	"id", "project_id", "name", "storage_bucket", "storage_path", "mime_type",
	"page_count", "content_hash", "language_hint", "status", "batches_processed",
	"candidates_imported", "last_error", "hidden", "created_by", "created_at", "updated_at",
}

type DocumentRepository interface {
	// CreateWithPages inserts the document and pages 1..PageCount in one transaction.
	CreateWithPages(ctx context.Context, doc *entity.Document) ([]entity.Page, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	List(ctx context.Context, projectID uuid.UUID, includeHidden bool) ([]entity.Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus, upd entity.DocumentUpdate) error
	SetHidden(ctx context.Context, id uuid.UUID, hidden bool) error
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
	// RequeueFailed resets failed pages to queued and the document to queued.
	RequeueFailed(ctx context.Context, id uuid.UUID) (int, error)
}

type documentRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewDocumentRepository(db *DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepo{db: db, log: logger, now: time.Now}
}

func (r *documentRepo) create(ctx context.Context, q querier, doc *entity.Document) error {
	now := r.now().UTC()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = constants.DocumentQueued
	}
	doc.CreatedAt, doc.UpdatedAt = now, now

	query, args := r.db.builder().Insert(tableDocuments).
		Columns(documentColumns...).
		Values(
			doc.ID, doc.ProjectID, doc.Name, doc.StorageBucket, doc.StoragePath, doc.MIMEType,
			doc.PageCount, nullable(doc.ContentHash), nullable(doc.LanguageHint), string(doc.Status),
			doc.BatchesProcessed, doc.CandidatesImported, nullable(doc.LastError), doc.Hidden,
			nullable(doc.CreatedBy), r.db.ts(now), r.db.ts(now),
		).Query()
	if _, err := r.db.exec(ctx, q, query, args...); err != nil {
		r.log.Error("document.create.failed", "project_id", doc.ProjectID, "name", doc.Name, "error", err)
		return fmt.Errorf("insert document: %w", err)
	}
	r.log.Info("document.created", "document_id", doc.ID, "project_id", doc.ProjectID, "page_count", doc.PageCount)
	return nil
}

func (r *documentRepo) CreateWithPages(ctx context.Context, doc *entity.Document) ([]entity.Page, error) {
	var pages []entity.Page
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.create(ctx, tx, doc); err != nil {
			return err
		}
		var err error
		pages, err = insertPages(ctx, r.db, tx, doc.ID, doc.PageCount, doc.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

func (r *documentRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	b := r.db.builder()
	query, args := b.Select(documentColumns...).
		From(b.Table(tableDocuments)).
		Where(entsql.EQ("id", id)).
		Query()
	rows, err := r.db.query(ctx, r.db.sql, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get document: %w", err)
		}
		return nil, common.NotFoundError("document")
	}
	doc, err := scanDocument(rows)
	if err != nil {
		return nil, err
	}
	return doc, rows.Err()
}

func (r *documentRepo) List(ctx context.Context, projectID uuid.UUID, includeHidden bool) ([]entity.Document, error) {
	b := r.db.builder()
	pred := entsql.EQ("project_id", projectID)
	if !includeHidden {
		pred = entsql.And(pred, entsql.EQ("hidden", false))
	}
	query, args := b.Select(documentColumns...).
		From(b.Table(tableDocuments)).
		Where(pred).
		OrderBy(entsql.Desc("created_at")).
		Query()
	rows, err := r.db.query(ctx, r.db.sql, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	out := []entity.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (r *documentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus, upd entity.DocumentUpdate) error {
	u := r.db.builder().Update(tableDocuments).
		Set("status", string(status)).
		Set("updated_at", r.db.ts(r.now()))
	switch {
	case upd.LastError != nil:
		u.Set("last_error", *upd.LastError)
	case upd.ClearError:
		u.SetNull("last_error")
	}
	if upd.BatchesDelta != 0 {
		u.Add("batches_processed", upd.BatchesDelta)
	}
	if upd.CandidatesDelta != 0 {
		u.Add("candidates_imported", upd.CandidatesDelta)
	}
	query, args := u.Where(entsql.EQ("id", id)).Query()
	res, err := r.db.exec(ctx, r.db.sql, query, args...)
	if err != nil {
		r.log.Error("document.update_status.failed", "document_id", id, "status", status, "error", err)
		return fmt.Errorf("update document status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NotFoundError("document")
	}
	r.log.Info("document.status", "document_id", id, "status", status,
		"batches_delta", upd.BatchesDelta, "candidates_delta", upd.CandidatesDelta)
	return nil
}

func (r *documentRepo) SetHidden(ctx context.Context, id uuid.UUID, hidden bool) error {
	query, args := r.db.builder().Update(tableDocuments).
		Set("hidden", hidden).
		Set("updated_at", r.db.ts(r.now())).
		Where(entsql.EQ("id", id)).
		Query()
	res, err := r.db.exec(ctx, r.db.sql, query, args...)
	if err != nil {
		return fmt.Errorf("set document hidden: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NotFoundError("document")
	}
	return nil
}

func (r *documentRepo) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	b := r.db.builder()
	query, args := b.Select("COUNT(*)").
		From(b.Table(tableDocuments)).
		Where(entsql.And(
			entsql.EQ("created_by", userID),
			entsql.GTE("created_at", r.db.ts(since)),
		)).
		Query()
	var n int
	if err := r.db.sql.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (r *documentRepo) RequeueFailed(ctx context.Context, id uuid.UUID) (int, error) {
	var requeued int
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		now := r.db.ts(r.now())
		query, args := r.db.builder().Update(tablePages).
			Set("status", string(constants.PageQueued)).
			Set("updated_at", now).
			SetNull("error_message").
			SetNull("claim_token").
			SetNull("processed_at").
			Where(entsql.And(
				entsql.EQ("document_id", id),
				entsql.EQ("status", string(constants.PageFailed)),
			)).
			Query()
		res, err := r.db.exec(ctx, tx, query, args...)
		if err != nil {
			return fmt.Errorf("requeue pages: %w", err)
		}
		n, _ := res.RowsAffected()
		requeued = int(n)
		if requeued == 0 {
			return nil
		}

		query, args = r.db.builder().Update(tableDocuments).
			Set("status", string(constants.DocumentQueued)).
			Set("updated_at", now).
			SetNull("last_error").
			Where(entsql.EQ("id", id)).
			Query()
		res, err = r.db.exec(ctx, tx, query, args...)
		if err != nil {
			return fmt.Errorf("requeue document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return common.NotFoundError("document")
		}
		return nil
	})
	if err != nil {
		r.log.Error("document.requeue.failed", "document_id", id, "error", err)
		return 0, err
	}
	r.log.Info("document.requeued", "document_id", id, "pages", requeued)
	return requeued, nil
}

func scanDocument(s rowScanner) (*entity.Document, error) {
	var (
		d                                  entity.Document
		status                             string
		contentHash, langHint, lastErr, by sql.NullString
		created, updated                   dbTime
	)
	err := s.Scan(
		&d.ID, &d.ProjectID, &d.Name, &d.StorageBucket, &d.StoragePath, &d.MIMEType,
		&d.PageCount, &contentHash, &langHint, &status, &d.BatchesProcessed,
		&d.CandidatesImported, &lastErr, &d.Hidden, &by, &created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NotFoundError("document")
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Status = constants.DocumentStatus(status)
	d.ContentHash = strPtr(contentHash)
	d.LanguageHint = strPtr(langHint)
	d.LastError = strPtr(lastErr)
	d.CreatedBy = strPtr(by)
	d.CreatedAt = created.Time
	d.UpdatedAt = updated.Time
	return &d, nil
}
