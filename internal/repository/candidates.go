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
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
)

const tableCandidates = "candidates"

var candidateColumns = []string{
	"id", "document_id", "project_id", "page_id", "text", "type", "confidence",
	"rationale", "status", "requirement_id", "created_by", "created_at", "updated_at",
}

type CandidateRepository interface {
	// InsertBatch writes all rows in a single INSERT statement.
	InsertBatch(ctx context.Context, rows []entity.Candidate) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Candidate, error)
	ListByDocument(ctx context.Context, documentID uuid.UUID, status *constants.CandidateStatus) ([]entity.Candidate, error)
	// Update applies a reviewer edit while the candidate is still open.
	Update(ctx context.Context, id uuid.UUID, patch entity.CandidatePatch) (*entity.Candidate, error)
	// Reject moves an open candidate to rejected.
	Reject(ctx context.Context, id uuid.UUID) (*entity.Candidate, error)
}

type candidateRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewCandidateRepository(db *DB, logger *slog.Logger) CandidateRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &candidateRepo{db: db, log: logger, now: time.Now}
}

func (r *candidateRepo) InsertBatch(ctx context.Context, rows []entity.Candidate) error {
	if len(rows) == 0 {
		return nil
	}
	now := r.now().UTC()
	ins := r.db.builder().Insert(tableCandidates).Columns(candidateColumns...)
	for i := range rows {
		c := &rows[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		// Microsecond offsets keep provider order when listing by created_at.
		created := now.Add(time.Duration(i) * time.Microsecond)
		c.CreatedAt, c.UpdatedAt = created, created
		ins.Values(
			c.ID, c.DocumentID, c.ProjectID, nullableUUID(c.PageID), c.Text, nullableString(c.Type),
			c.Confidence, nullable(c.Rationale), string(c.Status), nullableUUID(c.RequirementID),
			nullable(c.CreatedBy), r.db.ts(created), r.db.ts(created),
		)
	}
	query, args := ins.Query()
	if _, err := r.db.exec(ctx, r.db.sql, query, args...); err != nil {
		r.log.Error("candidates.insert.failed", "count", len(rows), "error", err)
		return fmt.Errorf("insert candidates: %w", err)
	}
	r.log.Info("candidates.inserted", "document_id", rows[0].DocumentID, "count", len(rows))
	return nil
}

func (r *candidateRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Candidate, error) {
	return getCandidate(ctx, r.db, r.db.sql, id)
}

func getCandidate(ctx context.Context, db *DB, q querier, id uuid.UUID) (*entity.Candidate, error) {
	b := db.builder()
	query, args := b.Select(candidateColumns...).
		From(b.Table(tableCandidates)).
		Where(entsql.EQ("id", id)).
		Query()
	rows, err := db.query(ctx, q, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get candidate: %w", err)
		}
		return nil, common.NotFoundError("candidate")
	}
	c, err := scanCandidate(rows)
	if err != nil {
		return nil, err
	}
	return &c, rows.Err()
}

func (r *candidateRepo) ListByDocument(ctx context.Context, documentID uuid.UUID, status *constants.CandidateStatus) ([]entity.Candidate, error) {
	b := r.db.builder()
	pred := entsql.EQ("document_id", documentID)
	if status != nil {
		pred = entsql.And(pred, entsql.EQ("status", string(*status)))
	}
	query, args := b.Select(candidateColumns...).
		From(b.Table(tableCandidates)).
		Where(pred).
		OrderBy("created_at", "id").
		Query()
	rows, err := r.db.query(ctx, r.db.sql, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()
	out := []entity.Candidate{}
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *candidateRepo) Update(ctx context.Context, id uuid.UUID, patch entity.CandidatePatch) (*entity.Candidate, error) {
	u := r.db.builder().Update(tableCandidates).
		Set("updated_at", r.db.ts(r.now()))
	if patch.Text != nil {
		u.Set("text", *patch.Text)
	}
	if patch.Type != nil {
		u.Set("type", string(*patch.Type))
	}
	if patch.Rationale != nil {
		u.Set("rationale", *patch.Rationale)
	}
	query, args := u.Where(entsql.And(entsql.EQ("id", id), openStatusPredicate())).Query()
	if err := r.transition(ctx, r.db.sql, id, query, args); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *candidateRepo) Reject(ctx context.Context, id uuid.UUID) (*entity.Candidate, error) {
	query, args := r.db.builder().Update(tableCandidates).
		Set("status", string(constants.CandidateRejected)).
		Set("updated_at", r.db.ts(r.now())).
		Where(entsql.And(entsql.EQ("id", id), openStatusPredicate())).
		Query()
	if err := r.transition(ctx, r.db.sql, id, query, args); err != nil {
		return nil, err
	}
	r.log.Info("candidate.rejected", "candidate_id", id)
	return r.Get(ctx, id)
}

// transition runs a status-guarded update. Zero affected rows means either the
// candidate does not exist or it is already terminal.
func (r *candidateRepo) transition(ctx context.Context, q querier, id uuid.UUID, query string, args []any) error {
	res, err := r.db.exec(ctx, q, query, args...)
	if err != nil {
		return fmt.Errorf("update candidate: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return terminalOrMissing(ctx, r.db, q, id)
}

func terminalOrMissing(ctx context.Context, db *DB, q querier, id uuid.UUID) error {
	c, err := getCandidate(ctx, db, q, id)
	if err != nil {
		return err
	}
	return common.NewAppError("INVALID_TRANSITION",
		fmt.Sprintf("candidate %s is already %s", id, c.Status), common.ErrInvalidTransition)
}

func openStatusPredicate() *entsql.Predicate {
	open := make([]any, len(constants.OpenCandidateStatuses))
	for i, s := range constants.OpenCandidateStatuses {
		open[i] = string(s)
	}
	return entsql.In("status", open...)
}

func scanCandidate(s rowScanner) (entity.Candidate, error) {
	var (
		c                         entity.Candidate
		pageID, requirementID     uuid.NullUUID
		typ, rationale, createdBy sql.NullString
		status                    string
		created, updated          dbTime
	)
	if err := s.Scan(&c.ID, &c.DocumentID, &c.ProjectID, &pageID, &c.Text, &typ, &c.Confidence,
		&rationale, &status, &requirementID, &createdBy, &created, &updated); err != nil {
		return entity.Candidate{}, fmt.Errorf("scan candidate: %w", err)
	}
	c.PageID = uuidPtr(pageID)
	if typ.Valid {
		t := constants.RequirementType(typ.String)
		c.Type = &t
	}
	c.Rationale = strPtr(rationale)
	c.Status = constants.CandidateStatus(status)
	c.RequirementID = uuidPtr(requirementID)
	c.CreatedBy = strPtr(createdBy)
	c.CreatedAt = created.Time
	c.UpdatedAt = updated.Time
	return c, nil
}
