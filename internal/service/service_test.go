package service

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
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

	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "whsec_service_test_secret"
	testBody   = `{"message":{"type":"call.ended","id":"evt-77"}}`
)

// errorBody is the kratos error encoding.
type errorBody struct {
	Code     int               `json:"code"`
	Reason   string            `json:"reason"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata"`
}

type testEnv struct {
	srv        *khttp.Server
	dispatcher *biz.Dispatcher
	breaker    *biz.CircuitBreaker
}

func testGateConf() *conf.Gate {
	return &conf.Gate{
		Enabled:     true,
		FailFast:    true,
		Environment: "production",
		IP:          &conf.IPAllowlist{AllowedRanges: []string{"192.0.2.0/24"}},
		RateLimit: &conf.RateLimit{
			IP: &conf.RateTier{Enabled: true, MaxRequests: 3, Window: time.Minute},
		},
		Signature: &conf.Signature{Secret: testSecret},
		Payload:   &conf.Payload{MaxBytes: 512},
		Headers:   &conf.Headers{Tenant: "X-Tenant-ID"},
	}
}

func newTestEnv(t *testing.T, c *conf.Gate) *testEnv {
	t.Helper()
	logger := log.DefaultLogger

	sig, err := biz.NewSignatureVerifier(c, logger)
	require.NoError(t, err)
	payload := biz.NewPayloadValidator(c, logger)
	gate := biz.NewSecurityGate(c,
		biz.NewIPAllowlist(c, logger),
		biz.NewMultiTierLimiter(c, data.NewMemoryWindowStore(0), logger),
		biz.NewReplayGuard(c),
		sig,
		payload,
		nil,
		logger,
	)

	catalog, err := biz.NewFallbackCatalog(nil)
	require.NoError(t, err)
	breaker := biz.NewCircuitBreaker(&conf.Breaker{
		FailureThreshold: 2,
		VolumeThreshold:  2,
		Timeout:          time.Second,
	}, data.NewMemoryStateStore(), catalog, nil, nil, logger)
	dispatcher := biz.NewDispatcher(breaker, nil, logger)

	webhooks := NewWebhookService(c, gate, payload, dispatcher, logger)
	admin := NewBreakerAdminService(breaker, logger)

	srv := khttp.NewServer()
	r := srv.Route("/v1")
	r.POST("/webhooks", webhooks.Receive)
	r.GET("/breakers", admin.List)
	r.GET("/breakers/{tenant}/{service}", admin.Get)
	r.POST("/breakers/reset", admin.Reset)

	return &testEnv{srv: srv, dispatcher: dispatcher, breaker: breaker}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

// webhookRequest builds a signed request from an allowed address.
func webhookRequest(body string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:5000"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "acme")
	req.Header.Set("X-Webhook-Timestamp", ts)
	req.Header.Set("X-Webhook-Signature", biz.ComputeSignature(sha256.New, []byte(testSecret), ts, []byte(body)))
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var out errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func decodeReply(t *testing.T, rec *httptest.ResponseRecorder) WebhookReply {
	t.Helper()
	var out WebhookReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func failingHandler(msg string) biz.EventHandlerFunc {
	return func(context.Context, *model.WebhookEvent) (any, error) {
		return nil, errors.New(msg)
	}
}
