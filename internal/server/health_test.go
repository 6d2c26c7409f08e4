package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"HookGuard/internal/biz"
	"HookGuard/internal/conf"
	"HookGuard/internal/data"
	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func healthStatus(t *testing.T, h *Health, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_MirrorsBreakerState(t *testing.T) {
	catalog, err := biz.NewFallbackCatalog(nil)
	require.NoError(t, err)
	breaker := biz.NewCircuitBreaker(&conf.Breaker{
		FailureThreshold: 1,
		VolumeThreshold:  1,
		RecoveryTimeout:  20 * time.Millisecond,
	}, data.NewMemoryStateStore(), catalog, nil, nil, log.DefaultLogger)
	h := NewHealth(breaker, log.DefaultLogger)
	key := model.BreakerKey{TenantID: "acme", Service: "crm-sync"}
	svc := BreakerServicePrefix + key.String()

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, h, ""))

	breaker.Execute(context.Background(), key, func(context.Context) (any, error) {
		return nil, errors.New("crm down")
	})
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, h, svc))

	time.Sleep(30 * time.Millisecond)
	res := breaker.Execute(context.Background(), key, func(context.Context) (any, error) {
		return "ok", nil
	})
	require.True(t, res.Success())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, h, svc))
}

func TestHealth_SeedsFromStore(t *testing.T) {
	store := data.NewMemoryStateStore()
	key := model.BreakerKey{TenantID: "globex", Service: "event-dispatch"}
	now := time.Now()
	rec := model.NewBreakerRecord(now)
	rec.State = model.CircuitOpen
	rec.OpenedAt = &now
	require.NoError(t, store.SetState(context.Background(), key, rec))

	catalog, err := biz.NewFallbackCatalog(nil)
	require.NoError(t, err)
	h := NewHealth(biz.NewCircuitBreaker(nil, store, catalog, nil, nil, log.DefaultLogger), log.DefaultLogger)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, h, BreakerServicePrefix+key.String()))

	h.Shutdown()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, h, ""))
}

func TestGRPCServer_ServesHealth(t *testing.T) {
	catalog, err := biz.NewFallbackCatalog(nil)
	require.NoError(t, err)
	breaker := biz.NewCircuitBreaker(nil, data.NewMemoryStateStore(), catalog, nil, nil, log.DefaultLogger)

	srv := NewGRPCServer(&conf.Server{GRPC: &conf.ServerGRPC{Addr: "127.0.0.1:0"}}, NewHealth(breaker, log.DefaultLogger))

	info := srv.GetServiceInfo()
	assert.Contains(t, info, "grpc.health.v1.Health")
}
