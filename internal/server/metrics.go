package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"HookGuard/internal/biz"
	"HookGuard/internal/model"
	"HookGuard/internal/service"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "hookguard"

// Metrics holds the Prometheus collectors of the service on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	gateRejections  *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	circuitState    *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
}

// NewMetrics registers the collectors and follows breaker transitions.
func NewMetrics(breaker *biz.CircuitBreaker) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by operation, status code and error reason",
			},
			[]string{"operation", "code", "reason"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		gateRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gate_rejections_total",
				Help:      "Total number of webhooks rejected by the security gate, by first failing layer",
			},
			[]string{"layer", "reason"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fallbacks_total",
				Help:      "Total number of webhooks answered with a fallback message, by fallback kind",
			},
			[]string{"kind"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "circuit_state",
				Help:      "Circuit state per breaker (0=closed, 1=half-open, 2=open)",
			},
			[]string{"tenant", "service"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "circuit_transitions_total",
				Help:      "Total number of circuit state transitions",
			},
			[]string{"from", "to"},
		),
	}
	reg.MustRegister(
		m.requests,
		m.requestDuration,
		m.gateRejections,
		m.fallbacks,
		m.circuitState,
		m.transitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if breaker != nil {
		breaker.OnStateChange(m.observeTransition)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records one sample per request. Gate rejections are counted by the
// failed_at_layer metadata of the returned error.
func (m *Metrics) Middleware() middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			start := time.Now()
			operation := "unknown"
			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
			}

			reply, err := handler(ctx, req)

			code, reason := http.StatusOK, "OK"
			if err != nil {
				se := errors.FromError(err)
				code, reason = int(se.Code), se.Reason
				if layer := se.Metadata["failed_at_layer"]; layer != "" {
					m.gateRejections.WithLabelValues(layer, se.Metadata["reason"]).Inc()
				}
			}
			if r, ok := reply.(*service.WebhookReply); ok && r != nil && r.Fallback != nil {
				m.fallbacks.WithLabelValues(string(r.Fallback.Kind)).Inc()
			}

			m.requests.WithLabelValues(operation, strconv.Itoa(code), reason).Inc()
			m.requestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
			return reply, err
		}
	}
}

func (m *Metrics) observeTransition(change model.StateChange) {
	m.transitions.WithLabelValues(string(change.From), string(change.To)).Inc()
	m.circuitState.WithLabelValues(change.Key.TenantID, change.Key.Service).Set(circuitStateValue(change.To))
}

func circuitStateValue(s model.CircuitState) float64 {
	switch s {
	case model.CircuitHalfOpen:
		return 1
	case model.CircuitOpen:
		return 2
	}
	return 0
}
