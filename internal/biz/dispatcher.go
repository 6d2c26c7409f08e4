package biz

import (
	"context"
	"sync"

	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	// DispatchService is the breaker service name of event dispatch.
	DispatchService = "event-dispatch"
	// DefaultTenant keys requests that carry no tenant header.
	DefaultTenant = "default"
)

// EventHandler processes one validated webhook event.
type EventHandler interface {
	Handle(ctx context.Context, event *model.WebhookEvent) (any, error)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *model.WebhookEvent) (any, error)

// Handle calls f.
func (f EventHandlerFunc) Handle(ctx context.Context, event *model.WebhookEvent) (any, error) {
	return f(ctx, event)
}

// EventForwarder delivers events to the downstream voice-agent backend.
// Implementation is in data layer (data.HTTPForwarder).
type EventForwarder interface {
	Forward(ctx context.Context, event *model.WebhookEvent) (any, error)
}

// Dispatcher routes validated events to the handler of their kind under the circuit
// breaker of (tenant, event-dispatch). Kinds without a handler go to the forwarder.
type Dispatcher struct {
	breaker   *CircuitBreaker
	forwarder EventForwarder
	logger    *log.Helper

	mu       sync.RWMutex
	handlers map[model.EventKind]EventHandler
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(breaker *CircuitBreaker, forwarder EventForwarder, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		breaker:   breaker,
		forwarder: forwarder,
		handlers:  make(map[model.EventKind]EventHandler),
		logger:    log.NewHelper(log.With(logger, "module", "biz/dispatcher")),
	}
}

// Register sets the handler of kind, replacing any previous one.
func (d *Dispatcher) Register(kind model.EventKind, h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

func (d *Dispatcher) handlerFor(kind model.EventKind) EventHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if h, ok := d.handlers[kind]; ok {
		return h
	}
	if d.forwarder != nil {
		return EventHandlerFunc(d.forwarder.Forward)
	}
	return nil
}

// Dispatch runs the handler of event.Kind. The result always carries a fallback entry
// in lang when the handler fails, times out or its circuit is open.
func (d *Dispatcher) Dispatch(ctx context.Context, event *model.WebhookEvent, lang Language) *ExecutionResult {
	tenant := event.TenantID
	if tenant == "" {
		tenant = DefaultTenant
	}
	key := model.BreakerKey{TenantID: tenant, Service: DispatchService}

	h := d.handlerFor(event.Kind)
	if h == nil {
		// nothing downstream consumes this kind; acknowledge it
		d.logger.Debugw("msg", "no handler for event kind", "kind", event.Kind, "event_id", event.ID)
		return &ExecutionResult{Outcome: OutcomeSuccess, State: model.CircuitClosed}
	}

	return d.breaker.Execute(ctx, key, func(opCtx context.Context) (any, error) {
		return h.Handle(opCtx, event)
	}, WithLanguage(lang))
}
