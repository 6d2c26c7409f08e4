package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"HookGuard/internal/conf"
	"HookGuard/internal/model"
	"HookGuard/pkg/httpclient"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultForwardTimeout = 10 * time.Second
	// maxForwardResponseBytes caps how much of a downstream reply is read.
	maxForwardResponseBytes = 64 << 10
)

// ForwardResponse is the downstream reply handed back to the webhook caller.
type ForwardResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// HTTPForwarder implements biz.EventForwarder by POSTing events to the downstream
// backend. Any non-2xx reply is an error so the breaker counts it as a failure.
type HTTPForwarder struct {
	url    string
	client *http.Client
	logger *log.Helper
}

// NewHTTPForwarder creates a forwarder. It returns nil when no downstream URL is set.
func NewHTTPForwarder(c *conf.Downstream, logger log.Logger) (*HTTPForwarder, error) {
	if c == nil || c.URL == "" {
		return nil, nil
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}
	client, err := httpclient.New(c.ProxyURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create downstream client: %w", err)
	}

	return &HTTPForwarder{
		url:    c.URL,
		client: client,
		logger: log.NewHelper(log.With(logger, "module", "data/forwarder")),
	}, nil
}

// Forward implements biz.EventForwarder.
func (f *HTTPForwarder) Forward(ctx context.Context, event *model.WebhookEvent) (any, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build downstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", event.ID)
	req.Header.Set("X-Tenant-Id", event.TenantID)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downstream request failed: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxForwardResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read downstream reply: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warnw("msg", "downstream rejected event",
			"event_id", event.ID,
			"kind", event.Kind,
			"status", resp.StatusCode)
		return nil, fmt.Errorf("downstream returned status %d", resp.StatusCode)
	}

	out := &ForwardResponse{StatusCode: resp.StatusCode}
	if json.Valid(reply) {
		out.Body = reply
	}
	return out, nil
}
