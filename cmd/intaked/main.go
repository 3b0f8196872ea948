// Command intaked runs the intake HTTP API, the gRPC health endpoint and the
// background tick workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/requirements-intake/internal/app"
	"github.com/joseph-ayodele/requirements-intake/internal/async"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/server"
)

func main() {
	var (
		configPath string
		lockPath   string
		migrate    bool
	)
	cmd := &cobra.Command{
		Use:           "intaked",
		Short:         "Requirements intake daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, lockPath, migrate)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file (default $INTAKE_CONFIG)")
	cmd.Flags().StringVar(&lockPath, "lock", filepath.Join(os.TempDir(), "intaked.lock"), "single-instance lock file, empty disables")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "intaked:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, lockPath string, migrate bool) error {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := common.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	if lockPath != "" {
		lock := flock.New(lockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another intaked holds %s", lockPath)
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				logger.Warn("daemon.lock.release_failed", "error", err)
			}
		}()
	}

	a, err := app.Build(ctx, cfg, logger, app.Options{Metrics: true, Migrate: migrate})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("daemon.close.failed", "error", err)
		}
	}()

	workers := cfg.Pipeline.Workers
	queue := async.NewTickQueue(a.Processor, logger,
		async.WithWorkers(workers),
		async.WithQueueSize(workers*4),
		async.WithProcessTimeout(cfg.Provider.Timeout*time.Duration(cfg.Pipeline.MaxBatchesPerTick)+time.Minute),
		async.WithContinuation(true),
	)
	a.Queue = queue

	httpSrv := a.Server().HTTPServer()
	health := server.NewHealthServer(a.DB, logger)
	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("daemon.http.listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := health.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		health.Watch(gctx, 15*time.Second)
		return nil
	})
	if cfg.Pipeline.TickInterval > 0 {
		sched := async.NewScheduler(queue, cfg.Pipeline.TickInterval, workers, logger)
		g.Go(func() error { return sched.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("daemon.shutdown.start")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("daemon.http.shutdown_failed", "error", err)
		}
		health.GracefulStop()
		queue.Shutdown(shutdownCtx)
		return nil
	})

	logger.Info("daemon.started", "http_addr", cfg.Server.HTTPAddr, "grpc_addr", cfg.Server.GRPCAddr, "workers", workers)
	err = g.Wait()
	logger.Info("daemon.stopped")
	return err
}
