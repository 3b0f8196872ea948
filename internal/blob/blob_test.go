package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

func TestFSSignedURLRoundTrip(t *testing.T) {
	store, err := NewFS(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	if err := store.Put("docs", "p1/spec.pdf", []byte("%PDF-1.7")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ctx := context.Background()

	url, err := store.SignedURL(ctx, "docs", "p1/spec.pdf", time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.Contains(url, "expires=") {
		t.Fatalf("unexpected url %q", url)
	}
	data, err := store.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "%PDF-1.7" {
		t.Fatalf("unexpected data %q", data)
	}

	direct, err := store.Download(ctx, "docs", "p1/spec.pdf")
	if err != nil || string(direct) != "%PDF-1.7" {
		t.Fatalf("Download: %q %v", direct, err)
	}
}

func TestFSExpiredURL(t *testing.T) {
	store, _ := NewFS(t.TempDir(), nil)
	_ = store.Put("docs", "a.txt", []byte("x"))
	ctx := context.Background()

	url, err := store.SignedURL(ctx, "docs", "a.txt", time.Second)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	store.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := store.Fetch(ctx, url); err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestFSMissingAndEscape(t *testing.T) {
	store, _ := NewFS(t.TempDir(), nil)
	ctx := context.Background()

	if _, err := store.SignedURL(ctx, "docs", "missing.pdf", time.Minute); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Download(ctx, "docs", "../../etc/passwd"); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := store.Fetch(ctx, "ftp://host/file"); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected unsupported scheme, got %v", err)
	}
}

func TestMemoryFailures(t *testing.T) {
	m := NewMemory()
	m.Put("b", "doc", []byte("hello"))
	ctx := context.Background()

	url, err := m.SignedURL(ctx, "b", "doc", time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if data, err := m.Fetch(ctx, url); err != nil || string(data) != "hello" {
		t.Fatalf("Fetch: %q %v", data, err)
	}

	boom := errors.New("connection reset")
	m.FetchFail("b", "doc", boom)
	if _, err := m.Fetch(ctx, url); !errors.Is(err, boom) {
		t.Fatalf("expected fetch failure, got %v", err)
	}
	m.SignFail("b", "doc", boom)
	if _, err := m.SignedURL(ctx, "b", "doc", time.Minute); !errors.Is(err, boom) {
		t.Fatalf("expected sign failure, got %v", err)
	}
	if m.Fetches() != 2 {
		t.Fatalf("expected 2 fetches, got %d", m.Fetches())
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), common.StorageConfig{Backend: "s3"}, nil)
	if !errors.Is(err, common.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
