package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
)

// Candidate is one extracted requirement awaiting review.
type Candidate struct {
	ID            uuid.UUID                  `json:"id"`
	DocumentID    uuid.UUID                  `json:"document_id"`
	ProjectID     uuid.UUID                  `json:"project_id"`
	PageID        *uuid.UUID                 `json:"page_id,omitempty"`
	Text          string                     `json:"text"`
	Type          *constants.RequirementType `json:"type,omitempty"`
	Confidence    float64                    `json:"confidence"`
	Rationale     *string                    `json:"rationale,omitempty"`
	Status        constants.CandidateStatus  `json:"status"`
	RequirementID *uuid.UUID                 `json:"requirement_id,omitempty"`
	CreatedBy     *string                    `json:"created_by,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// CandidatePatch is a reviewer edit. Nil fields are left unchanged.
type CandidatePatch struct {
	Text      *string
	Type      *constants.RequirementType
	Rationale *string
}
