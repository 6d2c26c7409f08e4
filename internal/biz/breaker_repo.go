package biz

import (
	"context"

	"HookGuard/internal/model"
)

// StateStore persists circuit breaker records.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementations are in data layer (data.MemoryStateStore, data.CachedStateStore).
type StateStore interface {
	// GetState returns the record of key, lazily creating an initial CLOSED record.
	// The returned record is a copy owned by the caller.
	GetState(ctx context.Context, key model.BreakerKey) (*model.BreakerRecord, error)

	// SetState stores record under key.
	SetState(ctx context.Context, key model.BreakerKey, record *model.BreakerRecord) error

	// DeleteState removes the record of key. Deleting a missing key is not an error.
	DeleteState(ctx context.Context, key model.BreakerKey) error

	// GetAllStates returns a snapshot of every stored record.
	GetAllStates(ctx context.Context) (map[model.BreakerKey]*model.BreakerRecord, error)
}
