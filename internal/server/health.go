package server

import (
	"context"
	"time"

	"HookGuard/internal/biz"
	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// BreakerServicePrefix prefixes the health service name of each breaker, e.g.
// "breaker/acme:event-dispatch".
const BreakerServicePrefix = "breaker/"

// Health mirrors breaker states into a gRPC health server. The overall service ("")
// is SERVING while the process runs; a breaker is NOT_SERVING while its circuit is OPEN.
type Health struct {
	server *health.Server
	logger *log.Helper
}

// NewHealth creates the health server, seeds it from the stored breaker states and
// subscribes to transitions.
func NewHealth(breaker *biz.CircuitBreaker, logger log.Logger) *Health {
	h := &Health{
		server: health.NewServer(),
		logger: log.NewHelper(log.With(logger, "module", "server/health")),
	}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	states, err := breaker.States(ctx)
	if err != nil {
		h.logger.Warnw("msg", "breaker states unavailable, health starts empty", "error", err)
	}
	for key, rec := range states {
		h.set(key, rec.State)
	}

	breaker.OnStateChange(func(change model.StateChange) {
		h.set(change.Key, change.To)
	})
	return h
}

// Server returns the gRPC health implementation.
func (h *Health) Server() healthpb.HealthServer {
	return h.server
}

// Shutdown marks every service NOT_SERVING.
func (h *Health) Shutdown() {
	h.server.Shutdown()
}

func (h *Health) set(key model.BreakerKey, state model.CircuitState) {
	status := healthpb.HealthCheckResponse_SERVING
	if state == model.CircuitOpen {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus(BreakerServicePrefix+key.String(), status)
}
