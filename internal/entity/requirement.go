package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
)

// Requirement is created when a candidate is approved.
type Requirement struct {
	ID          uuid.UUID                     `json:"id"`
	ProjectID   uuid.UUID                     `json:"project_id"`
	Title       string                        `json:"title"`
	Description string                        `json:"description"`
	Type        *constants.RequirementType    `json:"type,omitempty"`
	Priority    constants.RequirementPriority `json:"priority"`
	Status      constants.RequirementStatus   `json:"status"`
	CreatedBy   *string                       `json:"created_by,omitempty"`
	CreatedAt   time.Time                     `json:"created_at"`
}

// RequirementSource links a requirement back to the candidate, document and
// page it was promoted from.
type RequirementSource struct {
	ID            uuid.UUID  `json:"id"`
	RequirementID uuid.UUID  `json:"requirement_id"`
	CandidateID   uuid.UUID  `json:"candidate_id"`
	DocumentID    uuid.UUID  `json:"document_id"`
	PageID        *uuid.UUID `json:"page_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
