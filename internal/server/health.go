package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "requirements.intake.v1.Intake"

// HealthServer serves grpc.health.v1 and mirrors the database ping into it.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	check  HealthChecker
	logger *slog.Logger
}

func NewHealthServer(check HealthChecker, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{grpc: gs, health: hs, check: check, logger: logger}
}

// Probe pings the database once and updates the serving status.
func (h *HealthServer) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.check != nil {
		if err := h.check.HealthCheck(ctx, 2*time.Second); err != nil {
			h.logger.Warn("health.check.failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	return status
}

// Watch pings every interval until ctx is done, then reports shutdown.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	h.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-t.C:
			h.Probe(ctx)
		}
	}
}

func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.Info("grpc.health.listening", "addr", lis.Addr().String())
	return h.grpc.Serve(lis)
}

func (h *HealthServer) GracefulStop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
