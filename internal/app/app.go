// Package app wires the intake components from configuration. The daemon,
// the CLI and the cloud function all build the same graph through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/requirements-intake/internal/blob"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/dedup"
	"github.com/joseph-ayodele/requirements-intake/internal/events"
	"github.com/joseph-ayodele/requirements-intake/internal/export"
	"github.com/joseph-ayodele/requirements-intake/internal/extract"
	"github.com/joseph-ayodele/requirements-intake/internal/ingest"
	"github.com/joseph-ayodele/requirements-intake/internal/metrics"
	"github.com/joseph-ayodele/requirements-intake/internal/pipeline"
	"github.com/joseph-ayodele/requirements-intake/internal/repository"
	"github.com/joseph-ayodele/requirements-intake/internal/review"
	"github.com/joseph-ayodele/requirements-intake/internal/server"
)

// Options select the optional parts of the graph.
type Options struct {
	// Offline skips the extraction provider, for commands that only read.
	Offline bool
	// Metrics registers Prometheus collectors and observes the processor.
	Metrics bool
	// Migrate applies the schema after connecting.
	Migrate bool
}

type App struct {
	Config    *common.Config
	Logger    *slog.Logger
	DB        *repository.DB
	Repos     *repository.Repositories
	Blobs     blob.Store
	Provider  extract.Provider
	Processor *pipeline.Processor
	Ingest    *ingest.Service
	Review    *review.Service
	Export    *export.Service
	Metrics   *metrics.Metrics
	Limiter   server.RateLimiter
	// Queue is set by the daemon once its workers run.
	Queue server.Enqueuer

	closers []func() error
}

// Build connects the store, blob backend and provider and assembles the
// services. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !opts.Offline {
		if err := cfg.ValidateProvider(); err != nil {
			return nil, err
		}
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.DB, err = repository.Open(ctx, repository.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, func() error { a.DB.Close(); return nil })

	if opts.Migrate {
		if err := a.DB.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	if err := a.DB.HealthCheck(ctx, 5*time.Second); err != nil {
		return nil, fmt.Errorf("database health: %w", err)
	}
	a.Repos = repository.NewRepositories(a.DB, logger)

	a.Blobs, err = blob.New(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	a.closers = append(a.closers, a.Blobs.Close)

	if opts.Offline {
		a.Provider = extract.ProviderFunc(func(context.Context, extract.Request) (*extract.Result, error) {
			return nil, common.ConfigError("extraction provider is not configured for this command")
		})
	} else {
		a.Provider, err = extract.New(ctx, cfg.Provider, logger)
		if err != nil {
			return nil, err
		}
		if c, ok := a.Provider.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	procOpts := []pipeline.Option{}
	if len(cfg.Events.Brokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.Events, logger)
		a.closers = append(a.closers, pub.Close)
		procOpts = append(procOpts, pipeline.WithPublisher(pub))
	}
	if opts.Metrics {
		a.Metrics = metrics.New()
		procOpts = append(procOpts, pipeline.WithObserver(a.Metrics))
	}
	a.Processor = pipeline.NewProcessor(logger, a.Repos, a.Blobs, a.Provider, pipeline.Options{
		BatchSize:           cfg.Pipeline.BatchSize,
		MaxBatchesPerTick:   cfg.Pipeline.MaxBatchesPerTick,
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		SignedURLTTL:        cfg.Storage.SignedURLTTL,
	}, procOpts...)

	dedupOpts := dedup.Options{Threshold: cfg.Dedup.Threshold, MinLength: cfg.Dedup.MinLength}
	a.Ingest = ingest.NewService(logger, a.Repos, a.Blobs, a.Processor, ingest.Options{
		MaxPages:        cfg.Ingest.MaxPages,
		DailyLimit:      cfg.Ingest.DailyLimit,
		LimitExceptions: cfg.Ingest.LimitExceptions,
		TickAttempts:    cfg.Pipeline.IngestTickAttempts,
		DefaultBucket:   cfg.Storage.Bucket,
	})
	a.Review = review.NewService(a.Repos, dedupOpts, logger)
	a.Export = export.NewService(a.Repos, dedupOpts, logger)

	if cfg.Redis.Addr != "" && cfg.Server.RateLimit > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Limiter = server.NewRedisLimiter(rdb, cfg.Server.RateLimit)
	}

	logger.Info("app.ready",
		"db_driver", cfg.Database.Driver,
		"storage", cfg.Storage.Backend,
		"provider", providerName(cfg, opts),
		"events", len(cfg.Events.Brokers) > 0,
		"rate_limit", a.Limiter != nil,
	)
	return a, nil
}

// Server returns the HTTP surface over this graph.
func (a *App) Server() *server.Server {
	return server.New(a.Config.Server, server.Deps{
		Ticker:  a.Processor,
		Queue:   a.Queue,
		Ingest:  a.Ingest,
		Review:  a.Review,
		Export:  a.Export,
		Repos:   a.Repos,
		Health:  a.DB,
		Metrics: a.Metrics,
		Limiter: a.Limiter,
	}, a.Logger)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func providerName(cfg *common.Config, opts Options) string {
	if opts.Offline {
		return "offline"
	}
	return cfg.Provider.Name
}
