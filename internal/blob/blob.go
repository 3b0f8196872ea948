// Package blob wraps the object store that holds uploaded documents.
package blob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

// Store reads uploaded document bytes. SignedURL hands out a short-lived
// direct-access URL and Fetch resolves one back into bytes.
type Store interface {
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
	Close() error
}

// New builds the backend named in cfg.Backend.
func New(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "gcs":
		return NewGCS(ctx, cfg, logger)
	case "fs":
		return NewFS(cfg.RootDir, logger)
	default:
		return nil, common.ConfigError(fmt.Sprintf("unsupported storage backend %q", cfg.Backend))
	}
}

// withTimeout bounds a blob call when d > 0.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
