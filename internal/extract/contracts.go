package extract

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

// ErrStructuredOutputUnsupported is returned by a provider call when the
// model rejects the structured-output (JSON schema) mode.
var ErrStructuredOutputUnsupported = errors.New("structured output not supported by provider")

// PageImage is one pre-rendered page.
type PageImage struct {
	Page     int
	MIMEType string
	Data     []byte
}

// PageText is the embedded text of one page.
type PageText struct {
	Page int
	Text string
}

// Content carries exactly one representation of the pages to extract from.
type Content struct {
	Bytes    []byte
	MIMEType string
	Images   []PageImage
	Texts    []PageText
}

// Validate reports an error unless exactly one representation is set.
func (c Content) Validate() error {
	n := 0
	if len(c.Bytes) > 0 {
		n++
	}
	if len(c.Images) > 0 {
		n++
	}
	if len(c.Texts) > 0 {
		n++
	}
	switch n {
	case 1:
	case 0:
		return common.InvalidArgumentError("content is empty")
	default:
		return common.InvalidArgumentError("content must carry exactly one of bytes, images or texts")
	}
	if len(c.Bytes) > 0 && c.MIMEType == "" {
		return common.InvalidArgumentError("content bytes need a mime type")
	}
	return nil
}

type Request struct {
	DocumentID   uuid.UUID
	PageNumbers  []int
	Content      Content
	LanguageHint string
}

// Item is one candidate requirement as returned by the provider.
type Item struct {
	Page       int     `json:"page"`
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Result struct {
	Items    []Item
	Usage    Usage
	Provider string
	Model    string
	// Structured is false when the call fell back to free-text parsing.
	Structured bool
}

// Provider is the interface the tick processor depends on.
type Provider interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (*Result, error)

func (f ProviderFunc) Extract(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
