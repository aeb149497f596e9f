package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"fleetdesk.org/internal/obs"
)

// HealthServer publishes database readiness through the standard gRPC
// health service, both for the whole server ("") and for serviceName.
type HealthServer struct {
	*health.Server
	readiness ReadinessChecker
	interval  time.Duration
	timeout   time.Duration
	serving   bool
}

// NewHealthServer creates the health service. Status starts NOT_SERVING
// until the first successful check.
func NewHealthServer(r ReadinessChecker, interval time.Duration) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := &HealthServer{
		Server:    health.NewServer(),
		readiness: r,
		interval:  interval,
		timeout:   2 * time.Second,
	}
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Register attaches the health service to srv.
func (h *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.Server)
}

// Probe runs one readiness check and updates the published status.
func (h *HealthServer) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	err := h.readiness.Check(ctx)
	ok := err == nil
	if ok != h.serving {
		if ok {
			obs.Logger().Info("readiness restored")
		} else {
			obs.Logger().Warn("readiness lost", zap.Error(err))
		}
	}
	h.serving = ok
	if ok {
		h.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Run probes until ctx ends, then marks every service NOT_SERVING.
func (h *HealthServer) Run(ctx context.Context) {
	h.Probe(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.SetServingStatus("", status)
	h.SetServingStatus(serviceName, status)
}
