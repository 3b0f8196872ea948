package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
)

// ProcessingEvent is the append-only audit record of one batch attempt.
type ProcessingEvent struct {
	ID                 uuid.UUID             `json:"id"`
	DocumentID         uuid.UUID             `json:"document_id"`
	PagesProcessed     int                   `json:"pages_processed"`
	CandidatesInserted int                   `json:"candidates_inserted"`
	Status             constants.EventStatus `json:"status"`
	Error              *string               `json:"error,omitempty"`
	Metadata           json.RawMessage       `json:"metadata,omitempty"`
	StartedAt          time.Time             `json:"started_at"`
	FinishedAt         time.Time             `json:"finished_at"`
}
