package constants

// DocumentStatus is the lifecycle status stored on documents rows.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	DocumentQueued     DocumentStatus = "queued"
	DocumentProcessing DocumentStatus = "processing" // at least one page still queued/processing
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed" // last batch attempt threw
)

// PageStatus moves queued -> processing -> processed|failed.
type PageStatus string

const (
	PageQueued     PageStatus = "queued"
	PageProcessing PageStatus = "processing"
	PageProcessed  PageStatus = "processed"
	PageFailed     PageStatus = "failed"
)

// CandidateStatus is the review state of an extracted candidate.
type CandidateStatus string

const (
	CandidateDraft         CandidateStatus = "draft"
	CandidateLowConfidence CandidateStatus = "low_confidence"
	CandidateApproved      CandidateStatus = "approved" // terminal
	CandidateRejected      CandidateStatus = "rejected" // terminal
)

// Terminal reports whether no further review transition is allowed.
func (s CandidateStatus) Terminal() bool {
	return s == CandidateApproved || s == CandidateRejected
}

// Valid reports whether s is one of the known candidate statuses.
func (s CandidateStatus) Valid() bool {
	switch s {
	case CandidateDraft, CandidateLowConfidence, CandidateApproved, CandidateRejected:
		return true
	}
	return false
}

// OpenCandidateStatuses are the states from which review may still act.
var OpenCandidateStatuses = []CandidateStatus{CandidateDraft, CandidateLowConfidence}

// EventStatus is the outcome recorded on processing_events.
type EventStatus string

const (
	EventSuccess EventStatus = "success"
	EventFailed  EventStatus = "failed"
)

// TickStatus is reported by the tick trigger.
type TickStatus string

const (
	TickIdle      TickStatus = "idle"
	TickProcessed TickStatus = "processed"
)
