package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"covera.io/internal/obs"
)

// HealthService publishes readiness over the standard gRPC health protocol.
type HealthService struct {
	srv       *health.Server
	readiness readinessChecker
	timeout   time.Duration
}

// NewHealthService starts in NOT_SERVING until the first probe succeeds.
func NewHealthService(r readinessChecker) *HealthService {
	if r == nil {
		r = ReadyProbe{}
	}
	h := &HealthService{srv: health.NewServer(), readiness: r, timeout: 2 * time.Second}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthService) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Probe runs the readiness check once and publishes the result.
func (h *HealthService) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	err := h.readiness.Check(ctx)
	obs.SetReady(err == nil)
	if err != nil {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run probes every interval until ctx is done, then marks the service as shutting down.
func (h *HealthService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := h.Probe(ctx); err != nil && ctx.Err() == nil {
			obs.Logger().Warn("readiness probe failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthService) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}

// NewGRPCServer builds a server with the health service and request logging.
func NewGRPCServer(h *HealthService, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(logUnary))
	s := grpc.NewServer(opts...)
	h.Register(s)
	return s
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	obs.Logger().Debug("grpc_complete",
		zap.String("method", info.FullMethod),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Error(err))
	return resp, err
}
