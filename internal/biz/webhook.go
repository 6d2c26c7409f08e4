package biz

import (
	"context"

	"HookGuard/internal/model"
)

// BreakerNotifier defines the interface for circuit breaker notifications
type BreakerNotifier interface {
	// NotifyCircuitOpened sends notification when a circuit opens
	NotifyCircuitOpened(ctx context.Context, event *model.CircuitOpenedEvent) error

	// NotifyCircuitClosed sends notification when a circuit recovers
	NotifyCircuitClosed(ctx context.Context, event *model.CircuitClosedEvent) error
}
