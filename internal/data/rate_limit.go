package data

import (
	"context"
	"fmt"
	"time"

	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CacheKeyWindow is the prefix of sliding window sorted sets: window:{key}
const CacheKeyWindow = "hookguard:window"

// slideScript prunes, counts and records one request atomically.
// KEYS[1] = window key
// ARGV = now_ms, window_ms, max_requests, member
// Returns {allowed, count, reset_in_ms}.
var slideScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < max then
	redis.call('ZADD', KEYS[1], now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', KEYS[1], window + 1)

local reset = 0
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window + 1 - now
	if reset < 0 then reset = 0 end
end
return {allowed, count, reset}
`)

// RedisWindowStore implements biz.WindowStore with one Redis sorted set per key, so
// every instance shares the same windows. Keys expire with their window.
// Redis degradation: on Redis failure, the request is counted in a local
// MemoryWindowStore instead.
type RedisWindowStore struct {
	rdb      *redis.Client
	fallback *MemoryWindowStore
	logger   *log.Helper
}

// NewRedisWindowStore creates a Redis-backed window store.
func NewRedisWindowStore(rdb *redis.Client, fallback *MemoryWindowStore, logger log.Logger) *RedisWindowStore {
	return &RedisWindowStore{
		rdb:      rdb,
		fallback: fallback,
		logger:   log.NewHelper(log.With(logger, "module", "data/window_redis")),
	}
}

// Slide implements biz.WindowStore.
func (r *RedisWindowStore) Slide(ctx context.Context, key string, window time.Duration, max int, now time.Time) (model.WindowDecision, error) {
	d, err := r.slide(ctx, key, window, max, now)
	if err != nil {
		r.logger.Warnf("Redis window check failed for %s: %v (using local window)", key, err)
		return r.fallback.Slide(ctx, key, window, max, now)
	}
	return d, nil
}

func (r *RedisWindowStore) slide(ctx context.Context, key string, window time.Duration, max int, now time.Time) (model.WindowDecision, error) {
	if r.rdb == nil {
		return model.WindowDecision{}, fmt.Errorf("redis client is nil")
	}

	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())
	res, err := slideScript.Run(ctx, r.rdb,
		[]string{BuildCacheKey(CacheKeyWindow, key)},
		nowMs, window.Milliseconds(), max, member,
	).Int64Slice()
	if err != nil {
		return model.WindowDecision{}, fmt.Errorf("failed to run window script: %w", err)
	}
	if len(res) != 3 {
		return model.WindowDecision{}, fmt.Errorf("unexpected window script reply: %v", res)
	}

	count := int(res[1])
	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return model.WindowDecision{
		Allowed:   res[0] == 1,
		Count:     count,
		Remaining: remaining,
		ResetInMs: res[2],
	}, nil
}

// Sweep implements biz.WindowStore. Redis keys expire on their own; only the local
// fallback needs sweeping.
func (r *RedisWindowStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return r.fallback.Sweep(ctx, now)
}
