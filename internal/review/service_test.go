package review_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/dedup"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
	"github.com/joseph-ayodele/requirements-intake/internal/repository"
	"github.com/joseph-ayodele/requirements-intake/internal/review"
	"github.com/joseph-ayodele/requirements-intake/internal/testsupport"
)

func strPtr(s string) *string { return &s }

func setup(t *testing.T, texts ...string) (*review.Service, *repository.Repositories, *entity.Document, []entity.Candidate) {
	t.Helper()
	_, repos := testsupport.MustOpenStore(t)
	ctx := context.Background()
	doc := &entity.Document{ProjectID: uuid.New(), Name: "srs.pdf", StoragePath: "srs.pdf", MIMEType: "application/pdf", PageCount: 1}
	pages, err := repos.Documents.CreateWithPages(ctx, doc)
	if err != nil {
		t.Fatalf("CreateWithPages: %v", err)
	}
	typ := constants.Security
	rows := make([]entity.Candidate, len(texts))
	for i, text := range texts {
		rows[i] = entity.Candidate{
			DocumentID: doc.ID,
			ProjectID:  doc.ProjectID,
			PageID:     &pages[0].ID,
			Text:       text,
			Type:       &typ,
			Confidence: 0.9,
			Status:     constants.CandidateDraft,
		}
	}
	if err := repos.Candidates.InsertBatch(ctx, rows); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	svc := review.NewService(repos, dedup.DefaultOptions(), testsupport.Logger())
	return svc, repos, doc, rows
}

func TestApproveCreatesRequirementWithProvenance(t *testing.T) {
	svc, repos, doc, rows := setup(t, "The system shall encrypt data at rest.")
	ctx := context.Background()

	got, err := svc.Approve(ctx, rows[0].ID, review.ApproveInput{
		Title:     "Encrypt data at rest",
		Priority:  "HIGH",
		CreatedBy: "reviewer-1",
	})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	req := got.Requirement
	if req.Priority != constants.PriorityHigh || req.Status != constants.RequirementDraft {
		t.Fatalf("unexpected requirement %+v", req)
	}
	if req.Type == nil || *req.Type != constants.Security {
		t.Fatalf("expected the candidate type to carry over, got %v", req.Type)
	}
	if req.ProjectID != doc.ProjectID || got.Source.DocumentID != doc.ID || got.Source.PageID == nil {
		t.Fatalf("provenance not linked: %+v", got.Source)
	}

	c, _ := repos.Candidates.Get(ctx, rows[0].ID)
	if c.Status != constants.CandidateApproved || c.RequirementID == nil || *c.RequirementID != req.ID {
		t.Fatalf("candidate not approved: %+v", c)
	}
	stored, err := repos.Requirements.Get(ctx, req.ID)
	if err != nil || stored.Title != "Encrypt data at rest" || stored.CreatedBy == nil {
		t.Fatalf("stored requirement %+v, %v", stored, err)
	}
}

func TestApproveIsOneWay(t *testing.T) {
	svc, repos, _, rows := setup(t, "Users can export reports.")
	ctx := context.Background()
	in := review.ApproveInput{Title: "Export reports"}

	if _, err := svc.Approve(ctx, rows[0].ID, in); err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	if _, err := svc.Approve(ctx, rows[0].ID, in); !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on second approve, got %v", err)
	}
	if _, err := svc.Reject(ctx, rows[0].ID); !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on reject after approve, got %v", err)
	}
	if _, err := svc.Update(ctx, rows[0].ID, review.UpdateInput{Text: strPtr("changed")}); !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on edit after approve, got %v", err)
	}
	n, err := repos.Requirements.CountForCandidate(ctx, rows[0].ID)
	if err != nil || n != 1 {
		t.Fatalf("expected exactly one requirement, got %d (%v)", n, err)
	}
}

func TestConcurrentApproveCreatesOneRequirement(t *testing.T) {
	svc, repos, _, rows := setup(t, "Audit logs are retained for a year.")
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Approve(ctx, rows[0].ID, review.ApproveInput{Title: "Retain audit logs"})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, common.ErrInvalidTransition) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one successful approve, got %d", successes)
	}
	if n, _ := repos.Requirements.CountForCandidate(ctx, rows[0].ID); n != 1 {
		t.Fatalf("expected one requirement, got %d", n)
	}
}

func TestRejectThenApproveFails(t *testing.T) {
	svc, _, _, rows := setup(t, "The UI supports dark mode.")
	ctx := context.Background()
	c, err := svc.Reject(ctx, rows[0].ID)
	if err != nil || c.Status != constants.CandidateRejected {
		t.Fatalf("Reject = %+v, %v", c, err)
	}
	if _, err := svc.Reject(ctx, rows[0].ID); !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := svc.Approve(ctx, rows[0].ID, review.ApproveInput{Title: "Dark mode"}); !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestUpdateKeepsStatus(t *testing.T) {
	svc, _, _, rows := setup(t, "Original text of the requirement.")
	ctx := context.Background()
	c, err := svc.Update(ctx, rows[0].ID, review.UpdateInput{
		Text:      strPtr("  Edited text of the requirement.  "),
		Type:      strPtr("NFR"),
		Rationale: strPtr("clarified"),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if c.Text != "Edited text of the requirement." || c.Type == nil || *c.Type != constants.NonFunctional {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if c.Status != constants.CandidateDraft || c.Rationale == nil || *c.Rationale != "clarified" {
		t.Fatalf("unexpected candidate %+v", c)
	}
}

func TestInputValidation(t *testing.T) {
	svc, _, _, rows := setup(t, "Some requirement text here.")
	ctx := context.Background()
	id := rows[0].ID

	tests := []struct {
		name string
		call func() error
	}{
		{"empty update", func() error { _, err := svc.Update(ctx, id, review.UpdateInput{}); return err }},
		{"blank text", func() error { _, err := svc.Update(ctx, id, review.UpdateInput{Text: strPtr("  ")}); return err }},
		{"unknown type", func() error { _, err := svc.Update(ctx, id, review.UpdateInput{Type: strPtr("legal")}); return err }},
		{"missing title", func() error { _, err := svc.Approve(ctx, id, review.ApproveInput{}); return err }},
		{"bad priority", func() error {
			_, err := svc.Approve(ctx, id, review.ApproveInput{Title: "x", Priority: "urgent"})
			return err
		}},
		{"bad status", func() error {
			_, err := svc.Approve(ctx, id, review.ApproveInput{Title: "x", Status: "done"})
			return err
		}},
		{"bad list filter", func() error { _, err := svc.List(ctx, rows[0].DocumentID, "pending"); return err }},
		{"bad threshold", func() error { _, err := svc.Duplicates(ctx, rows[0].DocumentID, 1.5); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, common.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}

	if _, err := svc.Reject(ctx, uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListAndDuplicates(t *testing.T) {
	svc, _, doc, rows := setup(t,
		"User can reset password via email",
		"user can reset password via email link",
		"Reports can be exported to CSV and PDF formats.",
	)
	ctx := context.Background()
	if _, err := svc.Reject(ctx, rows[2].ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	drafts, err := svc.List(ctx, doc.ID, "draft")
	if err != nil || len(drafts) != 2 {
		t.Fatalf("List(draft) = %d, %v", len(drafts), err)
	}

	report, err := svc.Duplicates(ctx, doc.ID, 0)
	if err != nil {
		t.Fatalf("Duplicates: %v", err)
	}
	if report.Threshold != dedup.DefaultThreshold || report.Summary.Groups != 1 || report.Summary.Duplicates != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Groups[0].RepresentativeID != rows[0].ID || report.Groups[0].DuplicateIDs[0] != rows[1].ID {
		t.Fatalf("unexpected group %+v", report.Groups[0])
	}

	strict, err := svc.Duplicates(ctx, doc.ID, 0.95)
	if err != nil || len(strict.Groups) != 0 {
		t.Fatalf("expected no groups at 0.95, got %+v (%v)", strict, err)
	}

	if _, err := svc.Duplicates(ctx, uuid.New(), 0); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
