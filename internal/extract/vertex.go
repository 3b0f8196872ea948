package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

type VertexConfig struct {
	Project     string
	Location    string
	Model       string // default gemini-1.5-pro
	Temperature float32
	Timeout     time.Duration
}

// vertexCall sends parts to the model and returns its response.
type vertexCall func(ctx context.Context, structured bool, parts []genai.Part) (*genai.GenerateContentResponse, error)

// Vertex is the Gemini adapter.
type Vertex struct {
	cfg    VertexConfig
	client *genai.Client
	call   vertexCall
	log    *slog.Logger
}

func NewVertex(ctx context.Context, cfg VertexConfig, logger *slog.Logger) (*Vertex, error) {
	if cfg.Project == "" || cfg.Location == "" {
		return nil, common.ConfigError("vertex provider needs project and location")
	}
	client, err := genai.NewClient(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	v := newVertex(cfg, nil, logger)
	v.client = client
	v.call = v.generate
	return v, nil
}

func newVertex(cfg VertexConfig, call vertexCall, logger *slog.Logger) *Vertex {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-pro"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Vertex{cfg: cfg, call: call, log: logger}
}

func (v *Vertex) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

func (v *Vertex) model(structured bool) *genai.GenerativeModel {
	m := v.client.GenerativeModel(v.cfg.Model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(BuildSystemPrompt())}}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(v.cfg.Temperature),
	}
	if structured {
		m.GenerationConfig.ResponseMIMEType = "application/json"
		m.GenerationConfig.ResponseSchema = envelopeGenaiSchema()
	}
	return m
}

func (v *Vertex) generate(ctx context.Context, structured bool, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	resp, err := v.model(structured).GenerateContent(ctx, parts...)
	if err != nil && structured && rejectsResponseSchema(err) {
		return nil, fmt.Errorf("%w: %v", ErrStructuredOutputUnsupported, err)
	}
	return resp, err
}

func (v *Vertex) Extract(ctx context.Context, req Request) (*Result, error) {
	if err := req.Content.Validate(); err != nil {
		return nil, err
	}
	rid := uuid.New().String()
	start := time.Now()
	v.log.Info("extract.vertex.start",
		"req_id", rid,
		"document_id", req.DocumentID,
		"pages", req.PageNumbers,
		"model", v.cfg.Model,
	)

	parts := vertexParts(req)
	gen := func(ctx context.Context, structured bool) (string, Usage, error) {
		ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
		defer cancel()
		resp, err := v.call(ctx, structured, parts)
		if err != nil {
			return "", Usage{}, err
		}
		return responseText(resp), usageOf(resp), nil
	}
	text, usage, structured, err := generateWithFallback(ctx, gen, v.log, "req_id", rid, "provider", "vertex")
	if err != nil {
		v.log.Error("extract.vertex.failed", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, providerError("vertex", err)
	}

	items, err := DecodeEnvelope(text, defaultPage(req.PageNumbers), v.log)
	if err != nil {
		v.log.Error("extract.vertex.malformed", "req_id", rid, "error", err, "content_bytes", len(text))
		return nil, err
	}
	v.log.Info("extract.vertex.ok",
		"req_id", rid,
		"items", len(items),
		"structured", structured,
		"total_tokens", usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &Result{Items: items, Usage: usage, Provider: "vertex", Model: v.cfg.Model, Structured: structured}, nil
}

func vertexParts(req Request) []genai.Part {
	parts := []genai.Part{genai.Text(BuildUserPrompt(req))}
	c := req.Content
	if len(c.Bytes) > 0 {
		if strings.HasPrefix(c.MIMEType, "text/") {
			parts = append(parts, genai.Text(string(c.Bytes)))
		} else {
			parts = append(parts, genai.Blob{MIMEType: c.MIMEType, Data: c.Bytes})
		}
	}
	for _, img := range c.Images {
		parts = append(parts, genai.Text(fmt.Sprintf("Page %d:", img.Page)), genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}
	return parts
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func usageOf(resp *genai.GenerateContentResponse) Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

func rejectsResponseSchema(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "response_schema") ||
		strings.Contains(msg, "response_mime_type") ||
		strings.Contains(msg, "responseschema") ||
		strings.Contains(msg, "controlled generation")
}

func envelopeGenaiSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"items": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"page":       {Type: genai.TypeInteger},
						"text":       {Type: genai.TypeString},
						"type":       {Type: genai.TypeString, Enum: constants.RequirementTypes()},
						"confidence": {Type: genai.TypeNumber},
						"rationale":  {Type: genai.TypeString},
					},
					Required: []string{"page", "text", "type", "confidence"},
				},
			},
		},
		Required: []string{"items"},
	}
}
