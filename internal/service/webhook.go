package service

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"HookGuard/internal/biz"
	"HookGuard/internal/conf"
	"HookGuard/internal/model"
	pkglog "HookGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// Reply statuses of an accepted webhook.
const (
	StatusAccepted = "accepted"
	StatusDegraded = "degraded"
)

// Error reasons returned to webhook senders. They name the failing layer only.
const (
	ReasonForbidden      = "WEBHOOK_FORBIDDEN"
	ReasonRateLimited    = "WEBHOOK_RATE_LIMITED"
	ReasonInvalidRequest = "WEBHOOK_INVALID"
	ReasonBodyUnreadable = "WEBHOOK_BODY_UNREADABLE"
)

// WebhookReply is the body of a 200 response. Fallback is set when the handler failed,
// timed out or its circuit is open; the caller still gets a usable message.
type WebhookReply struct {
	RequestID        string             `json:"request_id"`
	Status           string             `json:"status"`
	EventID          string             `json:"event_id,omitempty"`
	EventKind        model.EventKind    `json:"event_kind,omitempty"`
	Result           any                `json:"result,omitempty"`
	Fallback         *biz.FallbackEntry `json:"fallback,omitempty"`
	CircuitState     model.CircuitState `json:"circuit_state,omitempty"`
	ProcessingTimeMs float64            `json:"processing_time_ms"`
}

// WebhookService is the webhook ingress endpoint.
type WebhookService struct {
	gate       *biz.SecurityGate
	dispatcher *biz.Dispatcher
	headers    conf.Headers
	maxBytes   int64
	logger     *pkglog.LogHelper
	now        func() time.Time
}

// NewWebhookService creates the ingress service. Header names come from c.Headers.
func NewWebhookService(c *conf.Gate, gate *biz.SecurityGate, payload *biz.PayloadValidator, dispatcher *biz.Dispatcher, logger log.Logger) *WebhookService {
	s := &WebhookService{
		gate:       gate,
		dispatcher: dispatcher,
		headers: conf.Headers{
			Timestamp:    "X-Webhook-Timestamp",
			Signature:    "X-Webhook-Signature",
			ForwardedFor: "X-Forwarded-For",
			Tenant:       "X-Tenant-ID",
		},
		maxBytes: payload.MaxBytes(),
		logger:   pkglog.NewLogHelper(log.With(logger, "module", "service/webhook")),
		now:      time.Now,
	}
	if c != nil && c.Headers != nil {
		h := c.Headers
		if h.Timestamp != "" {
			s.headers.Timestamp = h.Timestamp
		}
		if h.Signature != "" {
			s.headers.Signature = h.Signature
		}
		if h.ForwardedFor != "" {
			s.headers.ForwardedFor = h.ForwardedFor
		}
		if h.Tenant != "" {
			s.headers.Tenant = h.Tenant
		}
	}
	return s
}

// Receive handles POST /v1/webhooks.
func (s *WebhookService) Receive(ctx khttp.Context) error {
	r := ctx.Request()

	// one byte past the cap is enough for the content layer to report the overflow
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBytes+1))
	if err != nil {
		return errors.BadRequest(ReasonBodyUnreadable, "request body could not be read")
	}

	req := &biz.WebhookRequest{
		RemoteAddr:   r.RemoteAddr,
		ForwardedFor: r.Header.Get(s.headers.ForwardedFor),
		TenantID:     strings.TrimSpace(r.Header.Get(s.headers.Tenant)),
		Timestamp:    r.Header.Get(s.headers.Timestamp),
		Signature:    r.Header.Get(s.headers.Signature),
		ContentType:  r.Header.Get("Content-Type"),
		Body:         body,
	}
	lang := AcceptLanguage(r.Header.Get("Accept-Language"))

	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		reply, err := s.process(c, ctx.Response(), in.(*biz.WebhookRequest), lang)
		if err != nil {
			return nil, err
		}
		return reply, nil
	})
	out, err := h(ctx, req)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, out)
}

func (s *WebhookService) process(ctx context.Context, w http.ResponseWriter, req *biz.WebhookRequest, lang biz.Language) (*WebhookReply, error) {
	start := s.now()

	verdict := s.gate.Validate(ctx, req)
	if !verdict.Valid {
		if verdict.FailedAtLayer == biz.LayerRateLimit && verdict.RetryAfterMs > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(verdict.RetryAfterMs))
		}
		return nil, verdictError(verdict)
	}

	reply := &WebhookReply{
		RequestID: verdict.RequestID,
		Status:    StatusAccepted,
	}
	if verdict.Event == nil {
		// disabled gate: nothing was parsed, acknowledge only
		reply.ProcessingTimeMs = elapsedMs(start, s.now())
		return reply, nil
	}

	event := &model.WebhookEvent{
		ID:         verdict.Event.ID,
		TenantID:   req.TenantID,
		Kind:       verdict.Event.Kind,
		Payload:    verdict.Event.Body,
		ReceivedAt: start,
	}
	if event.ID == "" {
		event.ID = verdict.RequestID
	}
	reply.EventID = event.ID
	reply.EventKind = event.Kind

	res := s.dispatcher.Dispatch(ctx, event, lang)
	reply.CircuitState = res.State
	if res.Success() {
		reply.Result = res.Value
	} else {
		reply.Status = StatusDegraded
		reply.Fallback = res.Fallback
		s.logger.APIWithContext(ctx, "webhook dispatched with fallback",
			"event_id", event.ID,
			"event_kind", event.Kind,
			"outcome", res.Outcome,
			"circuit_state", res.State,
			"error", res.Err,
		)
	}
	reply.ProcessingTimeMs = elapsedMs(start, s.now())
	return reply, nil
}

// verdictError maps a failed verdict to the HTTP error of its first failing layer.
// The metadata names layers and reasons only.
func verdictError(v *biz.SecurityVerdict) error {
	md := map[string]string{
		"request_id":      v.RequestID,
		"failed_at_layer": string(v.FailedAtLayer),
		"reason":          v.Outcome(v.FailedAtLayer).Reason,
	}
	if failed := v.FailedLayers(); len(failed) > 1 {
		layers := make([]string, 0, len(failed))
		for _, l := range biz.GateLayers {
			if _, ok := failed[string(l)]; ok {
				layers = append(layers, string(l))
			}
		}
		md["failed_layers"] = strings.Join(layers, ",")
	}

	// an oversized body fails the signature layer before content is checked
	if md["reason"] == biz.ReasonBodyTooLarge {
		return errors.BadRequest(ReasonInvalidRequest, "webhook rejected").WithMetadata(md)
	}

	switch v.FailedAtLayer {
	case biz.LayerIP, biz.LayerSignature:
		return errors.Forbidden(ReasonForbidden, "webhook rejected").WithMetadata(md)
	case biz.LayerRateLimit:
		if v.RetryAfterMs > 0 {
			md["retry_after_ms"] = strconv.FormatInt(v.RetryAfterMs, 10)
		}
		return errors.New(http.StatusTooManyRequests, ReasonRateLimited, "too many requests").WithMetadata(md)
	default:
		return errors.BadRequest(ReasonInvalidRequest, "webhook rejected").WithMetadata(md)
	}
}

// retryAfterSeconds rounds ms up to whole seconds, at least 1.
func retryAfterSeconds(ms int64) string {
	secs := (ms + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func elapsedMs(start, end time.Time) float64 {
	return float64(end.Sub(start).Microseconds()) / 1000
}

// AcceptLanguage returns the first supported language of an Accept-Language header,
// or "" to let the catalog pick its default.
func AcceptLanguage(header string) biz.Language {
	for _, part := range strings.Split(header, ",") {
		tag, _, _ := strings.Cut(part, ";")
		if lang, ok := biz.ParseLanguage(tag); ok {
			return lang
		}
	}
	return ""
}
