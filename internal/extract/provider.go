package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

// New builds the provider adapter named in cfg.Name.
func New(ctx context.Context, cfg common.ProviderConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Name {
	case "openai":
		if cfg.APIKey == "" {
			return nil, common.ConfigError("provider api key is required for openai")
		}
		return NewOpenAI(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger), nil
	case "vertex":
		return NewVertex(ctx, VertexConfig{
			Project:     cfg.Project,
			Location:    cfg.Location,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger)
	default:
		return nil, common.ConfigError(fmt.Sprintf("unsupported provider %q", cfg.Name))
	}
}

// generateFunc makes one model call and returns its raw text output.
type generateFunc func(ctx context.Context, structured bool) (string, Usage, error)

// generateWithFallback calls gen in structured mode and, if the provider
// rejects structured output, retries once immediately without it.
func generateWithFallback(ctx context.Context, gen generateFunc, logger *slog.Logger, attrs ...any) (string, Usage, bool, error) {
	text, usage, err := gen(ctx, true)
	if err == nil {
		return text, usage, true, nil
	}
	if !errors.Is(err, ErrStructuredOutputUnsupported) {
		return "", Usage{}, true, err
	}
	logger.Warn("extract.structured_output.fallback", append(attrs, "error", err)...)
	text, usage, err = gen(ctx, false)
	return text, usage, false, err
}

func defaultPage(pages []int) int {
	if len(pages) == 0 {
		return 1
	}
	return pages[0]
}

func providerError(name string, err error) error {
	if errors.Is(err, common.ErrMalformedResponse) || errors.Is(err, common.ErrInvalidInput) {
		return err
	}
	return common.NewAppError("PROVIDER_ERROR", name+" call failed", fmt.Errorf("%w: %w", common.ErrProvider, err))
}
