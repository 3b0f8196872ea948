package server

import (
	"net/http"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/review"
)

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	cands, err := s.deps.Review.List(r.Context(), id, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": cands})
}

func (s *Server) duplicates(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	threshold, err := queryFloat(r, "threshold")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	report, err := s.deps.Review.Duplicates(r.Context(), id, threshold)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) updateCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var in review.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	c, err := s.deps.Review.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) approveCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var in review.ApproveInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	in.CreatedBy, _ = common.UserFromContext(r.Context())
	res, err := s.deps.Review.Approve(r.Context(), id, in)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) rejectCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	c, err := s.deps.Review.Reject(r.Context(), id)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
