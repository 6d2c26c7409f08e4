package biz

import (
	"context"

	"HookGuard/internal/model"
)

// AuditLogger defines the interface for audit logging.
// Implementations must not block the request path.
type AuditLogger interface {
	// LogGateRejection logs a failed security verdict
	LogGateRejection(ctx context.Context, rejection *model.GateRejection)

	// LogCircuitTransition logs a circuit breaker state change
	LogCircuitTransition(ctx context.Context, change *model.StateChange)

	// LogCircuitReset logs an explicit admin reset of a breaker record
	LogCircuitReset(ctx context.Context, key model.BreakerKey, operator string)
}
