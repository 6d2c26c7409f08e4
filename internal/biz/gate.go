package biz

import (
	"context"
	"sync/atomic"
	"time"

	"HookGuard/internal/conf"
	"HookGuard/internal/model"
	pkglog "HookGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Rejection logs are throttled so a flood cannot flood the log pipeline.
const (
	rejectionLogRate  = rate.Limit(10)
	rejectionLogBurst = 20
)

// WebhookRequest is the part of an inbound HTTP request the gate inspects.
type WebhookRequest struct {
	RemoteAddr   string
	ForwardedFor string
	TenantID     string
	Timestamp    string
	Signature    string
	ContentType  string
	Body         []byte
}

type ipChecker interface {
	ClientIP(directIP, forwardedFor string) string
	IsAllowed(directIP, forwardedFor string) ValidationOutcome
}

type rateChecker interface {
	Check(ctx context.Context, clientIP, tenantID string) TierDecision
}

type timestampChecker interface {
	CheckTimestamp(header string) ValidationOutcome
}

type signatureChecker interface {
	Verify(signatureHeader, timestampHeader string, rawBody []byte) ValidationOutcome
}

type contentChecker interface {
	Validate(contentType string, rawBody []byte) (ValidationOutcome, *ParsedEvent)
	MaxBytes() int64
}

// SecurityGate runs the five validation layers over an inbound webhook request in the
// fixed order ip, rate_limit, timestamp, signature, content.
type SecurityGate struct {
	enabled  bool
	failFast bool

	ip        ipChecker
	rate      rateChecker
	replay    timestampChecker
	signature signatureChecker
	content   contentChecker

	audit      AuditLogger
	logLimiter *rate.Limiter
	suppressed atomic.Int64
	newID      func() string
	logger     *log.Helper
}

// NewSecurityGate wires the layers into a gate configured by c.
func NewSecurityGate(
	c *conf.Gate,
	ip *IPAllowlist,
	limiter *MultiTierLimiter,
	replay *ReplayGuard,
	signature *SignatureVerifier,
	payload *PayloadValidator,
	audit AuditLogger,
	logger log.Logger,
) *SecurityGate {
	g := &SecurityGate{
		enabled:    true,
		failFast:   true,
		ip:         ip,
		rate:       limiter,
		replay:     replay,
		signature:  signature,
		content:    payload,
		audit:      audit,
		logLimiter: rate.NewLimiter(rejectionLogRate, rejectionLogBurst),
		newID:      uuid.NewString,
		logger:     log.NewHelper(log.With(logger, "module", "biz/gate")),
	}
	if c != nil {
		g.enabled = c.Enabled
		g.failFast = c.FailFast
	}
	if !g.enabled {
		g.logger.Warn("security gate disabled: every request passes all layers")
	}
	return g
}

// Validate runs the gate over req. In fail-fast mode the first failing layer stops the
// pipeline and later layers are reported as skipped; in accumulate mode every layer
// runs. Every call gets a request id and a processing time.
func (g *SecurityGate) Validate(ctx context.Context, req *WebhookRequest) *SecurityVerdict {
	start := time.Now()
	v := &SecurityVerdict{
		RequestID: g.requestID(ctx),
		Layers:    make(map[GateLayer]ValidationOutcome, len(GateLayers)),
	}
	defer func() {
		v.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	}()

	if !g.enabled {
		v.ClientIP = stripPort(req.RemoteAddr)
		for _, l := range GateLayers {
			v.Layers[l] = passed(map[string]any{"gate": "disabled"})
		}
		v.Valid = true
		return v
	}

	v.ClientIP = g.ip.ClientIP(req.RemoteAddr, req.ForwardedFor)

	steps := []struct {
		layer GateLayer
		run   func() ValidationOutcome
	}{
		{LayerIP, func() ValidationOutcome {
			o := g.ip.IsAllowed(req.RemoteAddr, req.ForwardedFor)
			if ip, ok := o.Metadata["client_ip"].(string); ok && o.Reason != ReasonInvalidIP {
				v.ClientIP = ip
			}
			return o
		}},
		{LayerRateLimit, func() ValidationOutcome {
			return g.checkRate(ctx, v, req.TenantID)
		}},
		{LayerTimestamp, func() ValidationOutcome {
			return g.replay.CheckTimestamp(req.Timestamp)
		}},
		{LayerSignature, func() ValidationOutcome {
			// The body fed to the HMAC is bounded by the payload cap in both modes.
			if limit := g.content.MaxBytes(); int64(len(req.Body)) > limit {
				return failed(ReasonBodyTooLarge, map[string]any{"size": len(req.Body), "max_bytes": limit})
			}
			return g.signature.Verify(req.Signature, req.Timestamp, req.Body)
		}},
		{LayerContent, func() ValidationOutcome {
			o, event := g.content.Validate(req.ContentType, req.Body)
			v.Event = event
			return o
		}},
	}

	v.Valid = true
	for _, s := range steps {
		if !v.Valid && g.failFast {
			v.Layers[s.layer] = ValidationOutcome{Passed: false, Reason: ReasonSkipped}
			continue
		}
		o := s.run()
		v.Layers[s.layer] = o
		if !o.Passed && v.Valid {
			v.Valid = false
			v.FailedAtLayer = s.layer
		}
	}

	if !v.Valid {
		v.Event = nil
		g.reject(ctx, req, v)
	}
	return v
}

// requestID reuses the id the transport attached to ctx, if any.
func (g *SecurityGate) requestID(ctx context.Context) string {
	if id, ok := pkglog.LookupRequestID(ctx); ok {
		return id
	}
	return g.newID()
}

func (g *SecurityGate) checkRate(ctx context.Context, v *SecurityVerdict, tenantID string) ValidationOutcome {
	d := g.rate.Check(ctx, v.ClientIP, tenantID)
	meta := map[string]any{
		"remaining":   d.Remaining,
		"reset_in_ms": d.ResetInMs,
	}
	if d.Allowed {
		return passed(meta)
	}
	meta["tier"] = d.FailedTier
	meta["count"] = d.Count
	v.RetryAfterMs = d.ResetInMs
	if d.Saturated {
		return failed(ReasonTooManyKeys, meta)
	}
	return failed(ReasonRateLimited, meta)
}

func (g *SecurityGate) reject(ctx context.Context, req *WebhookRequest, v *SecurityVerdict) {
	failedLayers := v.FailedLayers()

	if g.audit != nil {
		g.audit.LogGateRejection(ctx, &model.GateRejection{
			RequestID:     v.RequestID,
			TenantID:      req.TenantID,
			ClientIP:      v.ClientIP,
			FailedAtLayer: string(v.FailedAtLayer),
			FailedLayers:  failedLayers,
			At:            time.Now(),
		})
	}

	if !g.logLimiter.Allow() {
		g.suppressed.Add(1)
		return
	}
	g.logger.Warnw(
		"msg", "webhook rejected",
		"type", "security",
		"request_id", v.RequestID,
		"tenant_id", req.TenantID,
		"client_ip", v.ClientIP,
		"failed_at_layer", v.FailedAtLayer,
		"reason", v.Layers[v.FailedAtLayer].Reason,
		"failed_layers", failedLayers,
		"suppressed_since_last", g.suppressed.Swap(0),
	)
}
