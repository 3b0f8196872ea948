package repository

import "log/slog"

// Repositories groups every repository built over one DB.
type Repositories struct {
	Documents    DocumentRepository
	Pages        PageRepository
	Candidates   CandidateRepository
	Events       EventRepository
	Requirements RequirementRepository
}

func NewRepositories(db *DB, logger *slog.Logger) *Repositories {
	return &Repositories{
		Documents:    NewDocumentRepository(db, logger),
		Pages:        NewPageRepository(db, logger),
		Candidates:   NewCandidateRepository(db, logger),
		Events:       NewEventRepository(db, logger),
		Requirements: NewRequirementRepository(db, logger),
	}
}
