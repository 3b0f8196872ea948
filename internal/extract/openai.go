package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

// OpenAIConfig configures the OpenAI-compatible chat/completions adapter.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string        // default https://api.openai.com/v1
	Model       string        // default gpt-4o-mini
	Temperature float32       // 0..2
	Timeout     time.Duration // per call
}

type OpenAI struct {
	cfg  OpenAIConfig
	http *http.Client
	log  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

func (c *OpenAI) Extract(ctx context.Context, req Request) (*Result, error) {
	if err := req.Content.Validate(); err != nil {
		return nil, err
	}
	rid := uuid.New().String()
	start := time.Now()
	c.log.Info("extract.openai.start",
		"req_id", rid,
		"document_id", req.DocumentID,
		"pages", req.PageNumbers,
		"model", c.cfg.Model,
		"bytes", len(req.Content.Bytes),
		"images", len(req.Content.Images),
		"texts", len(req.Content.Texts),
	)

	gen := func(ctx context.Context, structured bool) (string, Usage, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		return c.complete(ctx, req, structured)
	}
	text, usage, structured, err := generateWithFallback(ctx, gen, c.log, "req_id", rid, "provider", "openai")
	if err != nil {
		c.log.Error("extract.openai.failed", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, providerError("openai", err)
	}

	items, err := DecodeEnvelope(text, defaultPage(req.PageNumbers), c.log)
	if err != nil {
		c.log.Error("extract.openai.malformed", "req_id", rid, "error", err, "content_bytes", len(text))
		return nil, err
	}
	c.log.Info("extract.openai.ok",
		"req_id", rid,
		"items", len(items),
		"structured", structured,
		"total_tokens", usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &Result{Items: items, Usage: usage, Provider: "openai", Model: c.cfg.Model, Structured: structured}, nil
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (c *OpenAI) complete(ctx context.Context, req Request, structured bool) (string, Usage, error) {
	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "system", "content": BuildSystemPrompt()},
			{"role": "user", "content": userParts(req)},
		},
	}
	if structured {
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "requirement_candidates",
				"strict": true,
				"schema": BuildEnvelopeSchema(true),
			},
		}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := SendJSON(ctx, c.http, endpoint, body, map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}, c.log)
	if err != nil {
		var httpErr *HTTPError
		if structured && errors.As(err, &httpErr) && rejectsStructuredOutput(httpErr) {
			return "", Usage{}, fmt.Errorf("%w: %v", ErrStructuredOutputUnsupported, err)
		}
		return "", Usage{}, err
	}

	var cc chatCompletion
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", Usage{}, common.NewAppError("MALFORMED_RESPONSE", fmt.Sprintf("decode openai response: %v", err), common.ErrMalformedResponse)
	}
	if len(cc.Choices) == 0 {
		return "", cc.Usage, common.NewAppError("MALFORMED_RESPONSE", "no choices in openai response", common.ErrMalformedResponse)
	}
	msg := cc.Choices[0].Message
	if msg.Refusal != "" {
		return "", cc.Usage, common.NewAppError("MALFORMED_RESPONSE", "model refused: "+msg.Refusal, common.ErrMalformedResponse)
	}
	return msg.Content, cc.Usage, nil
}

func rejectsStructuredOutput(e *HTTPError) bool {
	if e.Status != http.StatusBadRequest && e.Status != http.StatusUnprocessableEntity {
		return false
	}
	body := strings.ToLower(string(e.Body))
	return strings.Contains(body, "response_format") ||
		strings.Contains(body, "json_schema") ||
		strings.Contains(body, "structured output")
}

func userParts(req Request) []map[string]any {
	parts := []map[string]any{{"type": "text", "text": BuildUserPrompt(req)}}
	c := req.Content
	switch {
	case len(c.Bytes) > 0 && strings.HasPrefix(c.MIMEType, "image/"):
		parts = append(parts, imagePart(c.MIMEType, c.Bytes))
	case len(c.Bytes) > 0 && strings.HasPrefix(c.MIMEType, "text/"):
		parts = append(parts, map[string]any{"type": "text", "text": string(c.Bytes)})
	case len(c.Bytes) > 0:
		parts = append(parts, map[string]any{
			"type": "file",
			"file": map[string]any{
				"filename":  "document" + extForMIME(c.MIMEType),
				"file_data": dataURL(c.MIMEType, c.Bytes),
			},
		})
	}
	for _, img := range c.Images {
		parts = append(parts,
			map[string]any{"type": "text", "text": fmt.Sprintf("Page %d:", img.Page)},
			imagePart(img.MIMEType, img.Data),
		)
	}
	return parts
}

func imagePart(mimeType string, data []byte) map[string]any {
	return map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": dataURL(mimeType, data)},
	}
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func extForMIME(mimeType string) string {
	switch mimeType {
	case "application/pdf":
		return ".pdf"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	default:
		return ""
	}
}
