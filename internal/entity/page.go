package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
)

// Page is one page of a Document.
type Page struct {
	ID            uuid.UUID            `json:"id"`
	DocumentID    uuid.UUID            `json:"document_id"`
	PageNumber    int                  `json:"page_number"`
	Status        constants.PageStatus `json:"status"`
	ExtractedText *string              `json:"extracted_text,omitempty"`
	OCRConfidence *float64             `json:"ocr_confidence,omitempty"`
	ErrorMessage  *string              `json:"error_message,omitempty"`
	ProcessedAt   *time.Time           `json:"processed_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}
