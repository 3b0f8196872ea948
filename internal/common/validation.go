package common

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidationError is one failed rule on one input field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// ValidationRule inspects one field value and reports a failure, or nil.
type ValidationRule func(field string, value any) *ValidationError

// Validator collects rule failures across the fields of a request so the
// caller sees every problem at once.
type Validator struct {
	failures []ValidationError
}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) Field(field string, value any, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if f := rule(field, value); f != nil {
			v.failures = append(v.failures, *f)
		}
	}
	return v
}

func (v *Validator) HasErrors() bool {
	return len(v.failures) > 0
}

func (v *Validator) ErrorMessage() string {
	parts := make([]string, len(v.failures))
	for i, f := range v.failures {
		parts[i] = f.Error()
	}
	return strings.Join(parts, "; ")
}

// ValidateAndReturnError turns collected failures into an invalid-argument error.
func ValidateAndReturnError(v *Validator) error {
	if !v.HasErrors() {
		return nil
	}
	return InvalidArgumentError(v.ErrorMessage())
}

// Required rejects nil, blank strings and the nil UUID.
func Required(field string, value any) *ValidationError {
	missing := value == nil
	switch x := value.(type) {
	case string:
		missing = strings.TrimSpace(x) == ""
	case *string:
		missing = x == nil || strings.TrimSpace(*x) == ""
	case uuid.UUID:
		missing = x == uuid.Nil
	}
	if missing {
		return &ValidationError{Field: field, Value: value, Message: "is required"}
	}
	return nil
}

// NotBlank only fires for a string that was supplied but is empty; a nil
// pointer means "leave unchanged".
func NotBlank(field string, value any) *ValidationError {
	if s, ok := stringValue(value); ok && strings.TrimSpace(s) == "" {
		return &ValidationError{Field: field, Value: value, Message: "must not be blank"}
	}
	return nil
}

func MaxLength(limit int) ValidationRule {
	return func(field string, value any) *ValidationError {
		s, ok := stringValue(value)
		if !ok || utf8.RuneCountInString(s) <= limit {
			return nil
		}
		return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("must be at most %d characters", limit)}
	}
}

// IntRange accepts an int, or an *int that is either nil or in range.
func IntRange(lo, hi int) ValidationRule {
	return func(field string, value any) *ValidationError {
		var n int
		switch x := value.(type) {
		case int:
			n = x
		case *int:
			if x == nil {
				return nil
			}
			n = *x
		default:
			return &ValidationError{Field: field, Value: value, Message: "must be an integer"}
		}
		if n < lo || n > hi {
			return &ValidationError{Field: field, Value: n, Message: fmt.Sprintf("must be between %d and %d", lo, hi)}
		}
		return nil
	}
}

func stringValue(value any) (string, bool) {
	switch x := value.(type) {
	case string:
		return x, true
	case *string:
		if x != nil {
			return *x, true
		}
	}
	return "", false
}
