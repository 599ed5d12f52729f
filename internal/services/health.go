package services

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"hazardwatch/internal/pipeline"
)

// PipelineServiceName is the gRPC health service name of the pipeline
const PipelineServiceName = "hazardwatch.Pipeline"

// Pinger checks a dependency connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthService implements the liveness and readiness probes and mirrors
// readiness into a gRPC health server
type HealthService struct {
	state  pipeline.StateReader
	db     Pinger
	grpc   *health.Server
	ended  atomic.Bool
	logger *zap.Logger
}

// NewHealthService creates the health service. db may be nil.
func NewHealthService(state pipeline.StateReader, db Pinger, logger *zap.Logger) *HealthService {
	h := &HealthService{
		state:  state,
		db:     db,
		grpc:   health.NewServer(),
		logger: logger.Named("health"),
	}
	h.grpc.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.grpc.SetServingStatus(PipelineServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// GRPCServer returns the gRPC health server to register
func (h *HealthService) GRPCServer() *health.Server {
	return h.grpc
}

// Healthz implements the liveness probe
func (h *HealthService) Healthz(ctx context.Context) error {
	return nil
}

// Readyz implements the readiness probe. The service is ready once a
// frame has been published, the settings store answers and capture has
// not ended.
func (h *HealthService) Readyz(ctx context.Context) error {
	if h.ended.Load() {
		return &UnavailableError{Message: "capture has ended"}
	}
	if !h.state.Snapshot().Published {
		return &UnavailableError{Message: "no frame published yet"}
	}
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			return &UnavailableError{Message: "database: " + err.Error()}
		}
	}
	return nil
}

// MarkCaptureEnded reports the source as exhausted
func (h *HealthService) MarkCaptureEnded() {
	h.ended.Store(true)
	h.grpc.SetServingStatus(PipelineServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	h.grpc.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.logger.Info("Pipeline marked not serving")
}

// Watch updates the gRPC serving status every interval until ctx is done
func (h *HealthService) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := false
	for {
		select {
		case <-ctx.Done():
			h.grpc.Shutdown()
			return nil
		case <-ticker.C:
			ready := h.Readyz(ctx) == nil
			if ready == serving {
				continue
			}
			serving = ready
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if ready {
				status = healthpb.HealthCheckResponse_SERVING
			}
			h.grpc.SetServingStatus("", status)
			h.grpc.SetServingStatus(PipelineServiceName, status)
			h.logger.Info("Serving status changed", zap.String("status", status.String()))
		}
	}
}
