package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
)

const tableEvents = "processing_events"

var eventColumns = []string{
	"id", "document_id", "pages_processed", "candidates_inserted", "status", "error",
	"metadata", "started_at", "finished_at",
}

// EventRepository is append-only: rows are never updated after Record.
type EventRepository interface {
	Record(ctx context.Context, ev *entity.ProcessingEvent) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]entity.ProcessingEvent, error)
}

type eventRepo struct {
	db  *DB
	log *slog.Logger
}

func NewEventRepository(db *DB, logger *slog.Logger) EventRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &eventRepo{db: db, log: logger}
}

func (r *eventRepo) Record(ctx context.Context, ev *entity.ProcessingEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	var metadata any
	if len(ev.Metadata) > 0 {
		metadata = string(ev.Metadata)
	}
	query, args := r.db.builder().Insert(tableEvents).
		Columns(eventColumns...).
		Values(ev.ID, ev.DocumentID, ev.PagesProcessed, ev.CandidatesInserted, string(ev.Status),
			nullable(ev.Error), metadata, r.db.ts(ev.StartedAt), r.db.ts(ev.FinishedAt)).
		Query()
	if _, err := r.db.exec(ctx, r.db.sql, query, args...); err != nil {
		r.log.Error("processing_event.record.failed", "document_id", ev.DocumentID, "error", err)
		return fmt.Errorf("record processing event: %w", err)
	}
	r.log.Info("processing_event.recorded",
		"event_id", ev.ID,
		"document_id", ev.DocumentID,
		"status", ev.Status,
		"pages", ev.PagesProcessed,
		"candidates", ev.CandidatesInserted,
	)
	return nil
}

func (r *eventRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]entity.ProcessingEvent, error) {
	b := r.db.builder()
	query, args := b.Select(eventColumns...).
		From(b.Table(tableEvents)).
		Where(entsql.EQ("document_id", documentID)).
		OrderBy("started_at").
		Query()
	rows, err := r.db.query(ctx, r.db.sql, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list processing events: %w", err)
	}
	defer rows.Close()
	out := []entity.ProcessingEvent{}
	for rows.Next() {
		var (
			ev                entity.ProcessingEvent
			status            string
			errMsg, metadata  sql.NullString
			started, finished dbTime
		)
		if err := rows.Scan(&ev.ID, &ev.DocumentID, &ev.PagesProcessed, &ev.CandidatesInserted,
			&status, &errMsg, &metadata, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan processing event: %w", err)
		}
		ev.Status = constants.EventStatus(status)
		ev.Error = strPtr(errMsg)
		if metadata.Valid {
			ev.Metadata = []byte(metadata.String)
		}
		ev.StartedAt = started.Time
		ev.FinishedAt = finished.Time
		out = append(out, ev)
	}
	return out, rows.Err()
}
