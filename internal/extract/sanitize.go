package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	envelopeKeys = []string{"items", "requirements", "candidates", "results"}
	textKeys     = []string{"text", "requirement", "statement", "requirement_text"}
	itemKeys     = map[string]struct{}{"page": {}, "text": {}, "type": {}, "confidence": {}, "rationale": {}}
)

// SanitizeEnvelope normalizes a decoded provider payload so it can validate:
// a bare array or a synonym key becomes {"items": [...]}, item fields are
// coerced to their expected types, and unusable items are dropped. Items
// with no usable page number are attributed to defaultPage.
func SanitizeEnvelope(v any, defaultPage int) ([]byte, []string, error) {
	var rawItems []any
	switch t := v.(type) {
	case []any:
		rawItems = t
	case map[string]any:
		found := false
		for _, k := range envelopeKeys {
			if arr, ok := t[k].([]any); ok {
				rawItems, found = arr, true
				break
			}
		}
		if !found {
			// A single item object without an envelope.
			if _, ok := firstString(t, textKeys); ok {
				rawItems = []any{t}
			} else {
				return nil, nil, fmt.Errorf("%w: no items array in payload", errNoPayload)
			}
		}
	default:
		return nil, nil, fmt.Errorf("%w: payload is %T", errNoPayload, v)
	}

	var dropped []string
	items := make([]map[string]any, 0, len(rawItems))
	for i, raw := range rawItems {
		m, ok := raw.(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("items[%d](type)", i))
			continue
		}
		item, notes := sanitizeItem(m, defaultPage)
		for _, n := range notes {
			dropped = append(dropped, fmt.Sprintf("items[%d].%s", i, n))
		}
		if item == nil {
			continue
		}
		items = append(items, item)
	}

	out, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	return out, dropped, nil
}

func sanitizeItem(m map[string]any, defaultPage int) (map[string]any, []string) {
	var notes []string
	out := map[string]any{}

	text, ok := firstString(m, textKeys)
	text = strings.TrimSpace(text)
	if !ok || text == "" {
		return nil, []string{"text(empty)"}
	}
	out["text"] = text

	page, ok := toInt(m["page"])
	if !ok {
		page, ok = toInt(m["page_number"])
	}
	if !ok || page < 1 {
		page = defaultPage
		notes = append(notes, "page(default)")
	}
	out["page"] = page

	if s, ok := m["type"].(string); ok {
		out["type"] = strings.TrimSpace(s)
	} else if m["type"] != nil {
		notes = append(notes, "type(type)")
	}

	if c, ok := toFloat(m["confidence"]); ok {
		out["confidence"] = clamp01(c)
	} else if m["confidence"] != nil {
		notes = append(notes, "confidence(type)")
	}

	if s, ok := m["rationale"].(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			out["rationale"] = s
		}
	}

	for k := range m {
		if _, known := itemKeys[k]; known {
			continue
		}
		if k == "page_number" || isTextKey(k) {
			continue
		}
		notes = append(notes, k+"(unknown)")
	}
	return out, notes
}

func firstString(m map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s, true
		}
	}
	return "", false
}

func isTextKey(k string) bool {
	for _, t := range textKeys {
		if k == t {
			return true
		}
	}
	return false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		if strings.HasSuffix(strings.TrimSpace(t), "%") {
			f /= 100
		}
		return f, true
	}
	return 0, false
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
