package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

// FS stores objects under root/<bucket>/<path>. Signed URLs are file:// URLs
// carrying an expires query parameter that Fetch enforces.
type FS struct {
	root string
	http *http.Client
	log  *slog.Logger
	now  func() time.Time
}

func NewFS(root string, logger *slog.Logger) (*FS, error) {
	if root == "" {
		return nil, common.ConfigError("storage root_dir is required for the fs backend")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{root: abs, http: http.DefaultClient, log: logger, now: time.Now}, nil
}

func (s *FS) objectPath(bucket, path string) (string, error) {
	full := filepath.Join(s.root, bucket, filepath.FromSlash(path))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", common.InvalidArgumentErrorf("object path %q escapes storage root", path)
	}
	return full, nil
}

func (s *FS) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	full, err := s.objectPath(bucket, path)
	if err != nil {
		return nil, err
	}
	return readFile(full)
}

// Put writes an object; used by the CLI and tests to seed documents.
func (s *FS) Put(bucket, path string, data []byte) error {
	full, err := s.objectPath(bucket, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	return os.WriteFile(full, data, 0o644)
}

func (s *FS) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	full, err := s.objectPath(bucket, path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", common.NotFoundError("object " + bucket + "/" + path)
		}
		return "", fmt.Errorf("stat object: %w", err)
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(full),
		RawQuery: "expires=" + strconv.FormatInt(s.now().Add(ttl).Unix(), 10),
	}
	return u.String(), nil
}

func (s *FS) Fetch(ctx context.Context, raw string) ([]byte, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return httpGet(ctx, s.http, raw)
	}
	if u.Scheme != "file" {
		return nil, common.InvalidArgumentErrorf("unsupported url scheme %q", u.Scheme)
	}
	if exp := u.Query().Get("expires"); exp != "" {
		unix, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			return nil, common.InvalidArgumentErrorf("bad expires parameter %q", exp)
		}
		if s.now().Unix() > unix {
			return nil, fmt.Errorf("signed url expired at %s", time.Unix(unix, 0).UTC().Format(time.RFC3339))
		}
	}
	full := filepath.FromSlash(u.Path)
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return nil, common.InvalidArgumentErrorf("url path outside storage root")
	}
	return readFile(full)
}

func (s *FS) Close() error { return nil }

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.NotFoundError("object " + filepath.Base(path))
		}
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}
