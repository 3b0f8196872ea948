package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
)

// Document represents one uploaded file for data transfer between layers.
type Document struct {
	ID                 uuid.UUID                `json:"id"`
	ProjectID          uuid.UUID                `json:"project_id"`
	Name               string                   `json:"name"`
	StorageBucket      string                   `json:"storage_bucket"`
	StoragePath        string                   `json:"storage_path"`
	MIMEType           string                   `json:"mime_type"`
	PageCount          int                      `json:"page_count"`
	ContentHash        *string                  `json:"content_hash,omitempty"`
	LanguageHint       *string                  `json:"language_hint,omitempty"`
	Status             constants.DocumentStatus `json:"status"`
	BatchesProcessed   int                      `json:"batches_processed"`
	CandidatesImported int                      `json:"candidates_imported"`
	LastError          *string                  `json:"last_error,omitempty"`
	Hidden             bool                     `json:"hidden"`
	CreatedBy          *string                  `json:"created_by,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

// DocumentUpdate carries the fields UpdateDocumentStatus may touch alongside
// the status. Deltas are added to the current counters.
type DocumentUpdate struct {
	LastError       *string
	ClearError      bool
	BatchesDelta    int
	CandidatesDelta int
}
