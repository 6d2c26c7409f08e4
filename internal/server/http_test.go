package server

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"HookGuard/internal/biz"
	"HookGuard/internal/conf"
	"HookGuard/internal/data"
	"HookGuard/internal/model"
	"HookGuard/internal/server/middleware"
	"HookGuard/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret     = "whsec_server_test_secret"
	testAdminToken = "adm_9f8e7d6c5b4a"
	testBody       = `{"message":{"type":"call.started","id":"evt-301"}}`
)

type testStack struct {
	srv        *khttp.Server
	breaker    *biz.CircuitBreaker
	dispatcher *biz.Dispatcher
	metrics    *Metrics
}

func testGate() *conf.Gate {
	return &conf.Gate{
		Enabled:     true,
		FailFast:    true,
		Environment: "production",
		IP:          &conf.IPAllowlist{AllowedRanges: []string{"198.51.100.0/24"}},
		RateLimit: &conf.RateLimit{
			IP: &conf.RateTier{Enabled: true, MaxRequests: 50, Window: time.Minute},
		},
		Signature: &conf.Signature{Secret: testSecret},
		Payload:   &conf.Payload{MaxBytes: 1024},
		Headers:   &conf.Headers{Tenant: "X-Tenant-ID"},
	}
}

func newTestStack(t *testing.T, adminToken string, d *data.Data) *testStack {
	t.Helper()
	return newTestStackWithGate(t, testGate(), adminToken, d)
}

func newTestStackWithGate(t *testing.T, gc *conf.Gate, adminToken string, d *data.Data) *testStack {
	t.Helper()
	logger := log.DefaultLogger

	sig, err := biz.NewSignatureVerifier(gc, logger)
	require.NoError(t, err)
	payload := biz.NewPayloadValidator(gc, logger)
	gate := biz.NewSecurityGate(gc,
		biz.NewIPAllowlist(gc, logger),
		biz.NewMultiTierLimiter(gc, data.NewMemoryWindowStore(0), logger),
		biz.NewReplayGuard(gc),
		sig,
		payload,
		nil,
		logger,
	)
	catalog, err := biz.NewFallbackCatalog(nil)
	require.NoError(t, err)
	breaker := biz.NewCircuitBreaker(&conf.Breaker{FailureThreshold: 1, VolumeThreshold: 1},
		data.NewMemoryStateStore(), catalog, nil, nil, logger)
	dispatcher := biz.NewDispatcher(breaker, nil, logger)
	metrics := NewMetrics(breaker)

	srv := NewHTTPServer(
		&conf.Server{AdminToken: adminToken},
		gc,
		service.NewWebhookService(gc, gate, payload, dispatcher, logger),
		service.NewBreakerAdminService(breaker, logger),
		metrics,
		d,
		logger,
	)
	return &testStack{srv: srv, breaker: breaker, dispatcher: dispatcher, metrics: metrics}
}

func (s *testStack) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.srv.ServeHTTP(rec, req)
	return rec
}

func signedWebhook(remoteAddr string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks", strings.NewReader(testBody))
	req.RemoteAddr = remoteAddr
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "globex")
	req.Header.Set("X-Webhook-Timestamp", ts)
	req.Header.Set("X-Webhook-Signature", biz.ComputeSignature(sha256.New, []byte(testSecret), ts, []byte(testBody)))
	return req
}

func scrape(t *testing.T, s *testStack) string {
	t.Helper()
	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHTTPServer_WebhookCarriesRequestID(t *testing.T) {
	s := newTestStack(t, testAdminToken, nil)
	req := signedWebhook("198.51.100.7:443")
	req.Header.Set(middleware.RequestIDHeader, "upstream-req-1")

	rec := s.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "upstream-req-1", rec.Header().Get(middleware.RequestIDHeader))
	var reply service.WebhookReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "upstream-req-1", reply.RequestID)
	assert.Equal(t, "evt-301", reply.EventID)
}

func TestHTTPServer_GeneratesRequestID(t *testing.T) {
	s := newTestStack(t, testAdminToken, nil)

	rec := s.do(signedWebhook("198.51.100.7:443"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Regexp(t, `^[0-9a-z]{10}$`, rec.Header().Get(middleware.RequestIDHeader))
}

func TestHTTPServer_AdminAuth(t *testing.T) {
	s := newTestStack(t, testAdminToken, nil)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{name: "no token", want: http.StatusUnauthorized},
		{name: "wrong bearer", header: "Authorization", value: "Bearer adm_000000000000", want: http.StatusUnauthorized},
		{name: "basic scheme", header: "Authorization", value: "Basic " + testAdminToken, want: http.StatusUnauthorized},
		{name: "bearer", header: "Authorization", value: "Bearer " + testAdminToken, want: http.StatusOK},
		{name: "admin header", header: middleware.AdminTokenHeader, value: testAdminToken, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/breakers", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := s.do(req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), testAdminToken)
		})
	}
}

func TestHTTPServer_AdminAuthCoversResetValidation(t *testing.T) {
	s := newTestStack(t, testAdminToken, nil)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/v1/breakers/reset", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTPServer_AdminDisabledWithoutToken(t *testing.T) {
	s := newTestStack(t, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/breakers", nil)
	req.Header.Set("Authorization", "Bearer ")

	rec := s.do(req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), middleware.ReasonAdminDisabled)
}

func TestHTTPServer_WebhookIsNotBehindAdminAuth(t *testing.T) {
	s := newTestStack(t, "", nil)

	rec := s.do(signedWebhook("198.51.100.7:443"))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPServer_GateRejectionStatus(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*http.Request)
		code   int
		reason string
		layer  string
	}{
		{
			name:   "outside allowlist",
			mutate: func(r *http.Request) { r.RemoteAddr = "203.0.113.50:443" },
			code:   http.StatusForbidden,
			reason: service.ReasonForbidden,
			layer:  "ip",
		},
		{
			name:   "bad signature",
			mutate: func(r *http.Request) { r.Header.Set("X-Webhook-Signature", strings.Repeat("0", 64)) },
			code:   http.StatusForbidden,
			reason: service.ReasonForbidden,
			layer:  "signature",
		},
		{
			name:   "stale timestamp",
			mutate: func(r *http.Request) { r.Header.Set("X-Webhook-Timestamp", "1000000000") },
			code:   http.StatusBadRequest,
			reason: service.ReasonInvalidRequest,
			layer:  "timestamp",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStack(t, testAdminToken, nil)
			req := signedWebhook("198.51.100.7:443")
			tt.mutate(req)

			rec := s.do(req)

			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			var body struct {
				Reason   string            `json:"reason"`
				Metadata map[string]string `json:"metadata"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.reason, body.Reason)
			assert.Equal(t, tt.layer, body.Metadata["failed_at_layer"])
		})
	}
}

func TestHTTPServer_RateLimitedCarriesRetryAfter(t *testing.T) {
	gc := testGate()
	gc.RateLimit.IP = &conf.RateTier{Enabled: true, MaxRequests: 1, Window: time.Minute}
	s := newTestStackWithGate(t, gc, testAdminToken, nil)

	require.Equal(t, http.StatusOK, s.do(signedWebhook("198.51.100.7:443")).Code)
	rec := s.do(signedWebhook("198.51.100.7:443"))

	require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.LessOrEqual(t, retryAfter, 60)
	assert.Contains(t, scrape(t, s), `hookguard_http_requests_total{code="429",operation="/v1/webhooks",reason="WEBHOOK_RATE_LIMITED"} 1`)
}

func TestHTTPServer_Metrics(t *testing.T) {
	s := newTestStack(t, testAdminToken, nil)
	s.dispatcher.Register(model.EventCallStarted, biz.EventHandlerFunc(func(context.Context, *model.WebhookEvent) (any, error) {
		return nil, errors.New("crm down")
	}))

	s.do(signedWebhook("203.0.113.50:443")) // outside allowlist
	s.do(signedWebhook("198.51.100.7:443")) // handler fails, circuit opens

	body := scrape(t, s)
	assert.Contains(t, body, `hookguard_gate_rejections_total{layer="ip",reason="ip_not_allowed"} 1`)
	assert.Contains(t, body, `hookguard_http_requests_total{code="403",operation="/v1/webhooks",reason="WEBHOOK_FORBIDDEN"} 1`)
	assert.Contains(t, body, `hookguard_http_requests_total{code="200",operation="/v1/webhooks",reason="OK"} 1`)
	assert.Contains(t, body, `hookguard_fallbacks_total{kind="systemError"} 1`)
	assert.Contains(t, body, `hookguard_circuit_state{service="event-dispatch",tenant="globex"} 2`)
	assert.Contains(t, body, `hookguard_circuit_transitions_total{from="CLOSED",to="OPEN"} 1`)
	assert.Contains(t, body, "hookguard_http_request_duration_seconds_bucket")
}

func TestHTTPServer_Healthz(t *testing.T) {
	t.Run("no backends", func(t *testing.T) {
		s := newTestStack(t, testAdminToken, nil)
		rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("redis unused by memory drivers", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = rdb.Close() })
		mr.Close()
		d, cleanup, err := data.NewData(&conf.Data{StateStore: &conf.StateStore{Driver: data.StateDriverMemory}}, testGate(), log.DefaultLogger,
			rdb, nil, data.NewCacheClient(rdb), data.NewAuditLogger(nil, log.DefaultLogger))
		require.NoError(t, err)
		t.Cleanup(cleanup)

		s := newTestStack(t, testAdminToken, d)
		rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("redis down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = rdb.Close() })
		d, cleanup, err := data.NewData(&conf.Data{StateStore: &conf.StateStore{Driver: data.StateDriverRedis}}, testGate(), log.DefaultLogger, rdb, nil, data.NewCacheClient(rdb), data.NewAuditLogger(nil, log.DefaultLogger))
		require.NoError(t, err)
		t.Cleanup(cleanup)

		s := newTestStack(t, testAdminToken, d)
		rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		mr.Close()
		rec = s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	})
}
