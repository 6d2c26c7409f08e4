package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// slowRequestMs is the latency above which RequestWithContext also logs a SlowRequest.
const slowRequestMs = 1000

// LogHelper extends the Kratos log.Helper with typed helpers. Each helper adds a "type"
// field which EmojiConsoleEncoder maps to an emoji.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates a typed log helper.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func typed(msg, logType string, kvs []interface{}) []interface{} {
	allKvs := make([]interface{}, 0, len(kvs)+4)
	allKvs = append(allKvs, "msg", msg)
	allKvs = append(allKvs, kvs...)
	return append(allKvs, "type", logType)
}

// API logs webhook ingress events (🔗).
func (h *LogHelper) API(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "api", kvs)...)
}

// Admin logs admin endpoint access (🔓).
func (h *LogHelper) Admin(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "admin", kvs)...)
}

// Request logs one HTTP request (emoji by status).
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	kvs = append(kvs,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(typed(msg, "request", kvs)...)
}

// RateLimit logs a rate limit rejection (🚦).
func (h *LogHelper) RateLimit(msg string, kvs ...interface{}) {
	h.Warnw(typed(msg, "rate_limit", kvs)...)
}

// Security logs a gate rejection (🔒).
func (h *LogHelper) Security(msg string, kvs ...interface{}) {
	h.Warnw(typed(msg, "security", kvs)...)
}

// Breaker logs a circuit breaker event (⚡). An OPEN state logs at warn level.
func (h *LogHelper) Breaker(msg, state string, kvs ...interface{}) {
	kvs = append(kvs, "state", state)
	if state == "OPEN" {
		h.Warnw(typed(msg, "breaker", kvs)...)
		return
	}
	h.Infow(typed(msg, "breaker", kvs)...)
}

// Success logs a completed operation (✅).
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "success", kvs)...)
}

// Database logs a database operation (💾).
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "database", kvs)...)
}

// Redis logs a Redis operation (📦).
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "redis", kvs)...)
}

// Scheduler logs a cron job run (🎯).
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "scheduler", kvs)...)
}

// Startup logs service startup (🚀).
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "startup", kvs)...)
}

// Audit logs an audit record (📋).
func (h *LogHelper) Audit(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "audit", kvs)...)
}

// ========== Context-aware helpers ==========
// These pull the request id, tenant and client IP from ctx.

// SlowRequest warns about a request slower than threshold (🐌).
func (h *LogHelper) SlowRequest(ctx context.Context, method, url string, duration, threshold int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("[%s] Slow request detected | %s %s | %dms (threshold: %dms)",
		reqCtx.RequestID, method, url, duration, threshold)
	kvs = append(kvs,
		"request_id", reqCtx.RequestID,
		"tenant_id", reqCtx.TenantID,
		"method", method,
		"url", url,
		"duration_ms", duration,
		"threshold_ms", threshold,
	)
	h.Warnw(typed(msg, "slow_request", kvs)...)
}

// RequestWithContext logs one HTTP request with its tracing fields and flags slow ones.
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s",
		method, url, status, durationMs, reqCtx.RequestID)
	all := append([]interface{}{}, kvs...)
	all = append(all,
		"request_id", reqCtx.RequestID,
		"tenant_id", reqCtx.TenantID,
		"client_ip", reqCtx.ClientIP,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(typed(msg, "request", all)...)

	if durationMs > slowRequestMs {
		h.SlowRequest(ctx, method, url, durationMs, slowRequestMs)
	}
}

// CacheStats logs the occupancy of a bounded cache (🧹).
func (h *LogHelper) CacheStats(cacheName string, size, maxSize int64, kvs ...interface{}) {
	var usage float64
	if maxSize > 0 {
		usage = float64(size) / float64(maxSize) * 100
	}
	msg := fmt.Sprintf("Cache stats - %s | Size: %d/%d (%.1f%%)", cacheName, size, maxSize, usage)
	kvs = append(kvs,
		"cache_name", cacheName,
		"size", size,
		"max_size", maxSize,
	)
	h.Infow(typed(msg, "cache_stats", kvs)...)
}

// APIWithContext logs a webhook ingress event prefixed with the request id.
func (h *LogHelper) APIWithContext(ctx context.Context, msg string, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	kvs = append(kvs,
		"request_id", reqCtx.RequestID,
		"tenant_id", reqCtx.TenantID,
	)
	h.Infow(typed(fmt.Sprintf("[%s] %s", reqCtx.RequestID, msg), "api", kvs)...)
}
