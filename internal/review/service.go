// Package review implements the reviewer side of candidates: edits,
// approval into a requirement, rejection and duplicate grouping.
package review

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/dedup"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
	"github.com/joseph-ayodele/requirements-intake/internal/repository"
)

const maxTextLength = 4000

// Service handles candidate review business logic.
type Service struct {
	candidates   repository.CandidateRepository
	requirements repository.RequirementRepository
	documents    repository.DocumentRepository
	dedupOpts    dedup.Options
	logger       *slog.Logger
}

// NewService creates a new review service.
func NewService(repos *repository.Repositories, dedupOpts dedup.Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		candidates:   repos.Candidates,
		requirements: repos.Requirements,
		documents:    repos.Documents,
		dedupOpts:    dedupOpts,
		logger:       logger,
	}
}

// UpdateInput is a reviewer edit; nil fields are left as they are.
type UpdateInput struct {
	Text      *string `json:"text,omitempty"`
	Type      *string `json:"type,omitempty"`
	Rationale *string `json:"rationale,omitempty"`
}

// ApproveInput carries the fields of the requirement created on approval.
type ApproveInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Type        *string `json:"type,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	Status      string  `json:"status,omitempty"`
	CreatedBy   string  `json:"-"`
}

// Approval is the outcome of a successful approve.
type Approval struct {
	Requirement *entity.Requirement       `json:"requirement"`
	Source      *entity.RequirementSource `json:"source"`
}

// Update edits an open candidate without changing its status.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*entity.Candidate, error) {
	v := common.NewValidator().
		Field("text", in.Text, common.NotBlank, common.MaxLength(maxTextLength)).
		Field("type", in.Type, requirementType).
		Field("rationale", in.Rationale, common.MaxLength(maxTextLength))
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	if in.Text == nil && in.Type == nil && in.Rationale == nil {
		return nil, common.InvalidArgumentError("nothing to update")
	}

	var patch entity.CandidatePatch
	if in.Text != nil {
		t := strings.TrimSpace(*in.Text)
		patch.Text = &t
	}
	if in.Type != nil {
		t, _ := constants.CanonicalizeType(*in.Type)
		patch.Type = &t
	}
	if in.Rationale != nil {
		r := strings.TrimSpace(*in.Rationale)
		patch.Rationale = &r
	}

	c, err := s.candidates.Update(ctx, id, patch)
	if err != nil {
		s.logFailure("review.update.failed", id, err)
		return nil, err
	}
	s.logger.Info("review.candidate.updated", "candidate_id", id)
	return c, nil
}

// Approve promotes an open candidate into a requirement. The insert and the
// guarded status flip share one transaction, so a second approve fails with
// ErrInvalidTransition and never creates a second requirement.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, in ApproveInput) (*Approval, error) {
	v := common.NewValidator().
		Field("title", in.Title, common.Required, common.MaxLength(255)).
		Field("description", in.Description, common.MaxLength(maxTextLength)).
		Field("type", in.Type, requirementType)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	priority, ok := constants.ParsePriority(in.Priority)
	if !ok {
		return nil, common.InvalidArgumentErrorf("priority %q is not one of low, medium, high, critical", in.Priority)
	}
	status, ok := constants.ParseRequirementStatus(in.Status)
	if !ok {
		return nil, common.InvalidArgumentErrorf("status %q is not one of draft, in_review, approved", in.Status)
	}

	req := &entity.Requirement{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Priority:    priority,
		Status:      status,
	}
	if in.Type != nil {
		if t, ok := constants.CanonicalizeType(*in.Type); ok {
			req.Type = &t
		}
	}
	if in.CreatedBy != "" {
		by := in.CreatedBy
		req.CreatedBy = &by
	}

	// Inherit the candidate's type when the reviewer did not choose one.
	if req.Type == nil {
		if c, err := s.candidates.Get(ctx, id); err == nil && c.Type != nil {
			t := *c.Type
			req.Type = &t
		}
	}

	src, err := s.requirements.Promote(ctx, id, req)
	if err != nil {
		s.logFailure("review.approve.failed", id, err)
		return nil, err
	}
	s.logger.Info("review.candidate.approved",
		"candidate_id", id,
		"requirement_id", req.ID,
		"document_id", src.DocumentID,
	)
	return &Approval{Requirement: req, Source: src}, nil
}

// Reject moves an open candidate to rejected.
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (*entity.Candidate, error) {
	c, err := s.candidates.Reject(ctx, id)
	if err != nil {
		s.logFailure("review.reject.failed", id, err)
		return nil, err
	}
	s.logger.Info("review.candidate.rejected", "candidate_id", id)
	return c, nil
}

// List returns a document's candidates, optionally filtered by status.
func (s *Service) List(ctx context.Context, documentID uuid.UUID, status string) ([]entity.Candidate, error) {
	if _, err := s.documents.Get(ctx, documentID); err != nil {
		return nil, err
	}
	var filter *constants.CandidateStatus
	if status != "" {
		st := constants.CandidateStatus(strings.ToLower(strings.TrimSpace(status)))
		if !st.Valid() {
			return nil, common.InvalidArgumentErrorf("unknown candidate status %q", status)
		}
		filter = &st
	}
	return s.candidates.ListByDocument(ctx, documentID, filter)
}

// DuplicateReport is the grouping of one document's candidates.
type DuplicateReport struct {
	DocumentID uuid.UUID     `json:"document_id"`
	Threshold  float64       `json:"threshold"`
	Groups     []dedup.Group `json:"groups"`
	Summary    dedup.Summary `json:"summary"`
}

// Duplicates groups a document's candidates. A zero threshold uses the
// configured one. Groups are recomputed on every call.
func (s *Service) Duplicates(ctx context.Context, documentID uuid.UUID, threshold float64) (*DuplicateReport, error) {
	if threshold < 0 || threshold > 1 {
		return nil, common.InvalidArgumentError("threshold must be within [0,1]")
	}
	cands, err := s.List(ctx, documentID, "")
	if err != nil {
		return nil, err
	}
	opts := s.dedupOpts
	if threshold > 0 {
		opts.Threshold = threshold
	}
	items := make([]dedup.Item, len(cands))
	for i, c := range cands {
		items[i] = dedup.Item{ID: c.ID, Text: c.Text}
	}
	groups := dedup.GroupDuplicates(items, opts)
	if groups == nil {
		groups = []dedup.Group{}
	}
	if opts.Threshold <= 0 {
		opts.Threshold = dedup.DefaultThreshold
	}
	report := &DuplicateReport{
		DocumentID: documentID,
		Threshold:  opts.Threshold,
		Groups:     groups,
		Summary:    dedup.Summarize(groups),
	}
	s.logger.Info("review.duplicates.computed",
		"document_id", documentID,
		"candidates", len(items),
		"groups", report.Summary.Groups,
		"duplicates", report.Summary.Duplicates,
	)
	return report, nil
}

// requirementType accepts the vocabulary and its known synonyms.
func requirementType(field string, value interface{}) *common.ValidationError {
	p, ok := value.(*string)
	if !ok || p == nil {
		return nil
	}
	if _, ok := constants.CanonicalizeType(*p); !ok {
		return &common.ValidationError{
			Field:   field,
			Value:   *p,
			Message: "must be one of " + strings.Join(constants.RequirementTypes(), ", "),
		}
	}
	return nil
}

func (s *Service) logFailure(event string, id uuid.UUID, err error) {
	if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrInvalidTransition) {
		s.logger.Warn(event, "candidate_id", id, "error", err)
		return
	}
	s.logger.Error(event, "candidate_id", id, "error", err)
}
