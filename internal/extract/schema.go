package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/requirements-intake/constants"
)

// BuildEnvelopeSchema returns the JSON schema of the provider payload. The
// strict form is what providers receive as a structured-output constraint;
// the loose form validates sanitized payloads locally and leaves type
// recognition to the caller.
func BuildEnvelopeSchema(strict bool) map[string]any {
	typeProp := map[string]any{"type": "string"}
	if strict {
		typeProp["enum"] = constants.RequirementTypes()
	}
	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"page":       map[string]any{"type": "integer", "minimum": 1},
			"text":       map[string]any{"type": "string", "minLength": 1},
			"type":       typeProp,
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"rationale":  map[string]any{"type": "string"},
		},
	}
	if strict {
		item["required"] = []string{"page", "text", "type", "confidence", "rationale"}
	} else {
		item["required"] = []string{"page", "text"}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"items": map[string]any{"type": "array", "items": item},
		},
		"required": []string{"items"},
	}
}

var (
	looseOnce   sync.Once
	looseSchema *jsonschema.Schema
	looseErr    error
)

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("envelope.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateEnvelope validates a sanitized payload against the loose schema.
func ValidateEnvelope(data []byte) error {
	looseOnce.Do(func() {
		looseSchema, looseErr = compileSchema(BuildEnvelopeSchema(false))
	})
	if looseErr != nil {
		return looseErr
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := looseSchema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
