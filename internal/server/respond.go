package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Limit   *int   `json:"limit,omitempty"`
	Used    *int   `json:"used,omitempty"`
	ResetAt string `json:"reset_at,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err through the error taxonomy. Internal errors are logged
// and hidden from the caller.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := common.HTTPStatus(err)
	body := errorBody{Error: err.Error(), Code: common.ErrorCode(err)}

	var limitErr *common.LimitError
	if errors.As(err, &limitErr) {
		body.Limit = &limitErr.Limit
		body.Used = &limitErr.Used
		body.ResetAt = limitErr.ResetAt.UTC().Format(time.RFC3339)
		retry := int(time.Until(limitErr.ResetAt).Seconds())
		if retry > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retry))
		}
	}

	log := common.LoggerFrom(r.Context(), logger)
	if status >= http.StatusInternalServerError {
		log.Error("http.request.failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	} else {
		log.Warn("http.request.rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return common.InvalidArgumentError("request body is empty")
		}
		return common.InvalidArgumentErrorf("invalid JSON body: %v", err)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.PathValue(name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.InvalidArgumentError(fmt.Sprintf("%s must be a UUID", name))
	}
	return id, nil
}

func queryFloat(r *http.Request, name string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, common.InvalidArgumentErrorf("%s must be a number", name)
	}
	return v, nil
}
