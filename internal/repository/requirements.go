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

const (
	tableRequirements       = "requirements"
	tableRequirementSources = "requirement_sources"
)

type RequirementRepository interface {
	// Promote creates the requirement and its provenance row and marks the
	// candidate approved, all in one transaction. A candidate that is no
	// longer open rolls everything back with ErrInvalidTransition.
	Promote(ctx context.Context, candidateID uuid.UUID, req *entity.Requirement) (*entity.RequirementSource, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Requirement, error)
	CountForCandidate(ctx context.Context, candidateID uuid.UUID) (int, error)
}

type requirementRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewRequirementRepository(db *DB, logger *slog.Logger) RequirementRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &requirementRepo{db: db, log: logger, now: time.Now}
}

func (r *requirementRepo) Promote(ctx context.Context, candidateID uuid.UUID, req *entity.Requirement) (*entity.RequirementSource, error) {
	var src *entity.RequirementSource
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		cand, err := getCandidate(ctx, r.db, tx, candidateID)
		if err != nil {
			return err
		}
		if cand.Status.Terminal() {
			return common.NewAppError("INVALID_TRANSITION",
				fmt.Sprintf("candidate %s is already %s", candidateID, cand.Status), common.ErrInvalidTransition)
		}

		now := r.now().UTC()
		if req.ID == uuid.Nil {
			req.ID = uuid.New()
		}
		req.ProjectID = cand.ProjectID
		req.CreatedAt = now
		query, args := r.db.builder().Insert(tableRequirements).
			Columns("id", "project_id", "title", "description", "type", "priority", "status", "created_by", "created_at").
			Values(req.ID, req.ProjectID, req.Title, req.Description, nullableString(req.Type),
				string(req.Priority), string(req.Status), nullable(req.CreatedBy), r.db.ts(now)).
			Query()
		if _, err := r.db.exec(ctx, tx, query, args...); err != nil {
			return fmt.Errorf("insert requirement: %w", err)
		}

		src = &entity.RequirementSource{
			ID:            uuid.New(),
			RequirementID: req.ID,
			CandidateID:   cand.ID,
			DocumentID:    cand.DocumentID,
			PageID:        cand.PageID,
			CreatedAt:     now,
		}
		query, args = r.db.builder().Insert(tableRequirementSources).
			Columns("id", "requirement_id", "candidate_id", "document_id", "page_id", "created_at").
			Values(src.ID, src.RequirementID, src.CandidateID, src.DocumentID, nullableUUID(src.PageID), r.db.ts(now)).
			Query()
		if _, err := r.db.exec(ctx, tx, query, args...); err != nil {
			return fmt.Errorf("insert requirement source: %w", err)
		}

		query, args = r.db.builder().Update(tableCandidates).
			Set("status", string(constants.CandidateApproved)).
			Set("requirement_id", req.ID).
			Set("updated_at", r.db.ts(now)).
			Where(entsql.And(entsql.EQ("id", candidateID), openStatusPredicate())).
			Query()
		res, err := r.db.exec(ctx, tx, query, args...)
		if err != nil {
			return fmt.Errorf("approve candidate: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return terminalOrMissing(ctx, r.db, tx, candidateID)
		}
		return nil
	})
	if err != nil {
		r.log.Warn("candidate.approve.failed", "candidate_id", candidateID, "error", err)
		return nil, err
	}
	r.log.Info("candidate.approved", "candidate_id", candidateID, "requirement_id", req.ID)
	return src, nil
}

func (r *requirementRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Requirement, error) {
	b := r.db.builder()
	query, args := b.Select("id", "project_id", "title", "description", "type", "priority", "status", "created_by", "created_at").
		From(b.Table(tableRequirements)).
		Where(entsql.EQ("id", id)).
		Query()
	rows, err := r.db.query(ctx, r.db.sql, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get requirement: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, common.NotFoundError("requirement")
	}
	var (
		req              entity.Requirement
		typ, createdBy   sql.NullString
		priority, status string
		created          dbTime
	)
	if err := rows.Scan(&req.ID, &req.ProjectID, &req.Title, &req.Description, &typ,
		&priority, &status, &createdBy, &created); err != nil {
		return nil, fmt.Errorf("scan requirement: %w", err)
	}
	if typ.Valid {
		t := constants.RequirementType(typ.String)
		req.Type = &t
	}
	req.Priority = constants.RequirementPriority(priority)
	req.Status = constants.RequirementStatus(status)
	req.CreatedBy = strPtr(createdBy)
	req.CreatedAt = created.Time
	return &req, nil
}

func (r *requirementRepo) CountForCandidate(ctx context.Context, candidateID uuid.UUID) (int, error) {
	b := r.db.builder()
	query, args := b.Select("COUNT(*)").
		From(b.Table(tableRequirementSources)).
		Where(entsql.EQ("candidate_id", candidateID)).
		Query()
	var n int
	if err := r.db.sql.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count requirement sources: %w", err)
	}
	return n, nil
}
