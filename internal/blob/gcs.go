package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

// GCS is a Store over Google Cloud Storage. Signed URLs are V4 GET URLs.
type GCS struct {
	client  *storage.Client
	http    *http.Client
	timeout time.Duration
	log     *slog.Logger
}

func NewGCS(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{
		client:  client,
		http:    &http.Client{Timeout: cfg.Timeout},
		timeout: cfg.Timeout,
		log:     logger,
	}, nil
}

func (g *GCS) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	r, err := g.client.Bucket(bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError(err, bucket, path)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", bucket, path, err)
	}
	g.log.Debug("blob.gcs.downloaded", "bucket", bucket, "path", path, "bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds())
	return data, nil
}

func (g *GCS) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	url, err := g.client.Bucket(bucket).SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		g.log.Warn("blob.gcs.sign.failed", "bucket", bucket, "path", path, "error", err)
		return "", fmt.Errorf("sign gs://%s/%s: %w", bucket, path, err)
	}
	return url, nil
}

func (g *GCS) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	return httpGet(ctx, g.http, url)
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func mapGCSError(err error, bucket, path string) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("object gs://%s/%s not found", bucket, path), common.ErrNotFound)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("object gs://%s/%s not found", bucket, path), common.ErrNotFound)
	}
	return fmt.Errorf("open gs://%s/%s: %w", bucket, path, err)
}

func httpGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download body: %w", err)
	}
	return data, nil
}
