package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

var errNoPayload = errors.New("no parseable payload")

// maxPayloadStarts bounds how many '{' / '[' positions are tried.
const maxPayloadStarts = 32

// DecodeEnvelope turns untrusted model output into items. It tolerates prose
// and code fences around the JSON, sanitizes item fields, validates against
// the envelope schema and canonicalizes types. defaultPage is used for
// items without a page number.
func DecodeEnvelope(raw string, defaultPage int, logger *slog.Logger) ([]Item, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v, err := locateJSON(raw)
	if err != nil {
		return nil, common.NewAppError("MALFORMED_RESPONSE", err.Error(), common.ErrMalformedResponse)
	}
	cleaned, dropped, err := SanitizeEnvelope(v, defaultPage)
	if err != nil {
		return nil, common.NewAppError("MALFORMED_RESPONSE", err.Error(), common.ErrMalformedResponse)
	}
	if len(dropped) > 0 {
		logger.Warn("extract.envelope.sanitized", "dropped", dropped)
	}
	if err := ValidateEnvelope(cleaned); err != nil {
		return nil, common.NewAppError("MALFORMED_RESPONSE", err.Error(), common.ErrMalformedResponse)
	}

	var env struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal(cleaned, &env); err != nil {
		return nil, common.NewAppError("MALFORMED_RESPONSE", fmt.Sprintf("unmarshal items: %v", err), common.ErrMalformedResponse)
	}
	for i := range env.Items {
		env.Items[i].Type = normalizeType(env.Items[i].Type)
	}
	return env.Items, nil
}

// normalizeType defaults an empty label to the default type and maps known
// labels onto the vocabulary. Unknown labels are returned lowercased so the
// caller can decide how to store them.
func normalizeType(label string) string {
	if strings.TrimSpace(label) == "" {
		return string(constants.DefaultRequirementType)
	}
	if t, ok := constants.CanonicalizeType(label); ok {
		return string(t)
	}
	return strings.ToLower(strings.TrimSpace(label))
}

// StripFences removes a surrounding ``` / ```json fence if present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop the info string ("json", "JSON", ...).
		if info := strings.TrimSpace(body[:nl]); !strings.ContainsAny(info, "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// locateJSON finds the first JSON object or array in s that decodes,
// ignoring anything after it.
func locateJSON(s string) (any, error) {
	s = StripFences(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty response", errNoPayload)
	}
	tried := 0
	for i := 0; i < len(s) && tried < maxPayloadStarts; i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		tried++
		dec := json.NewDecoder(bytes.NewReader([]byte(s[i:])))
		var v any
		if err := dec.Decode(&v); err == nil {
			switch v.(type) {
			case map[string]any, []any:
				return v, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no JSON object found", errNoPayload)
}
