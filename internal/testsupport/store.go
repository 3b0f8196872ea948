package testsupport

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/requirements-intake/internal/repository"
)

// Logger discards output so test logs stay readable.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MustOpenDB opens a migrated SQLite database in a temp dir and registers cleanup.
func MustOpenDB(t testing.TB) *repository.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "intake.db")
	db, err := repository.Open(context.Background(), repository.Config{Driver: "sqlite", DSN: path}, Logger())
	if err != nil {
		t.Fatalf("repository.Open: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("db.Migrate: %v", err)
	}
	return db
}

// MustOpenStore returns repositories over a fresh database.
func MustOpenStore(t testing.TB) (*repository.DB, *repository.Repositories) {
	t.Helper()
	db := MustOpenDB(t)
	return db, repository.NewRepositories(db, Logger())
}
