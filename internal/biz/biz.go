// Package biz contains business logic layer implementations.
// It holds the webhook security gate, the circuit breaker and the event dispatcher.
package biz

import (
	"HookGuard/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewIPAllowlist,
	NewMultiTierLimiter,
	NewReplayGuard,
	NewSignatureVerifier,
	NewPayloadValidator,
	NewSecurityGate,
	NewFallbackCatalog,
	NewCircuitBreaker,
	NewDispatcher,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
	wire.Bind(new(BreakerNotifier), new(*data.LogNotifier)),
	ProvideStateStore,
	ProvideWindowStore,
	ProvideForwarder,
)

// The data layer cannot import biz, so its selectable stores are returned as
// data-side interfaces with the same method sets.

// ProvideStateStore adapts the store chosen by data.NewStateStore.
func ProvideStateStore(s data.StateStore) StateStore { return s }

// ProvideWindowStore adapts the store chosen by data.NewWindowStore.
func ProvideWindowStore(s data.WindowStore) WindowStore { return s }

// ProvideForwarder keeps a nil *data.HTTPForwarder from becoming a non-nil interface.
func ProvideForwarder(f *data.HTTPForwarder) EventForwarder {
	if f == nil {
		return nil
	}
	return f
}
