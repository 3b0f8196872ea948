package server

import (
	"net/http"
	"strconv"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/ingest"
)

type ingestBody struct {
	Name         string `json:"name"`
	Bucket       string `json:"bucket"`
	Path         string `json:"path"`
	MIMEType     string `json:"mime_type"`
	Pages        *int   `json:"pages"`
	ContentHash  string `json:"content_hash"`
	LanguageHint string `json:"language_hint"`
}

func (s *Server) ingestDocument(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathUUID(r, "projectID")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var body ingestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	userID, email := common.UserFromContext(r.Context())

	res, err := s.deps.Ingest.Ingest(r.Context(), ingest.Request{
		ProjectID:    projectID,
		Name:         body.Name,
		Bucket:       body.Bucket,
		Path:         body.Path,
		MIMEType:     body.MIMEType,
		Pages:        body.Pages,
		ContentHash:  body.ContentHash,
		LanguageHint: body.LanguageHint,
		UserID:       userID,
		UserEmail:    email,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathUUID(r, "projectID")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	includeHidden, _ := strconv.ParseBool(r.URL.Query().Get("include_hidden"))
	docs, err := s.deps.Repos.Documents.List(r.Context(), projectID, includeHidden)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	doc, err := s.deps.Repos.Documents.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if _, err := s.deps.Repos.Documents.Get(r.Context(), id); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	pages, err := s.deps.Repos.Pages.ListByDocument(r.Context(), id)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if _, err := s.deps.Repos.Documents.Get(r.Context(), id); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	events, err := s.deps.Repos.Events.ListByDocument(r.Context(), id)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type hideBody struct {
	Hidden *bool `json:"hidden"`
}

// hideDocument soft-hides a document; {"hidden": false} restores it. An empty
// body hides.
func (s *Server) hideDocument(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	hidden := true
	if r.ContentLength != 0 {
		var body hideBody
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		if body.Hidden != nil {
			hidden = *body.Hidden
		}
	}
	if err := s.deps.Ingest.Hide(r.Context(), id, hidden); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "hidden": hidden})
}

func (s *Server) requeue(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	n, err := s.deps.Ingest.Requeue(r.Context(), id)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "pages_requeued": n})
}
