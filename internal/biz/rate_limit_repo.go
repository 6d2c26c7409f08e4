package biz

import (
	"context"
	"time"

	"HookGuard/internal/model"
)

// WindowStore keeps sliding window state per rate-limit key.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementations are in data layer (data.MemoryWindowStore, data.RedisWindowStore).
type WindowStore interface {
	// Slide prunes the window of key, then records now and admits the request when
	// fewer than max requests remain. Check and record are atomic per key.
	Slide(ctx context.Context, key string, window time.Duration, max int, now time.Time) (model.WindowDecision, error)

	// Sweep drops keys whose window holds no request at now and returns how many were dropped.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
