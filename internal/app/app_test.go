package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/testsupport"
)

func localConfig(t *testing.T) *common.Config {
	t.Helper()
	cfg := common.DefaultConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "intake.db")
	cfg.Storage.Backend = "fs"
	cfg.Storage.RootDir = t.TempDir()
	cfg.Storage.Bucket = "local"
	return cfg
}

func TestBuildOffline(t *testing.T) {
	a, err := Build(context.Background(), localConfig(t), testsupport.Logger(), Options{Offline: true, Migrate: true, Metrics: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if a.Processor == nil || a.Ingest == nil || a.Review == nil || a.Export == nil || a.Metrics == nil {
		t.Fatalf("incomplete graph: %+v", a)
	}
	if a.Limiter != nil {
		t.Fatal("limiter should stay off without redis")
	}

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status %d", rec.Code)
	}

	res, err := a.Processor.Tick(context.Background())
	if err != nil || res.ProcessedBatches != 0 {
		t.Fatalf("empty tick = %+v, %v", res, err)
	}
}

func TestBuildRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*common.Config)
		opts   Options
	}{
		{"unknown driver", func(c *common.Config) { c.Database.Driver = "mysql" }, Options{Offline: true}},
		{"missing provider key", func(c *common.Config) { c.Provider.APIKey = "" }, Options{}},
		{"unknown provider", func(c *common.Config) { c.Provider.Name = "llama" }, Options{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig(t)
			tt.mutate(cfg)
			if _, err := Build(context.Background(), cfg, testsupport.Logger(), tt.opts); !errors.Is(err, common.ErrConfig) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}
