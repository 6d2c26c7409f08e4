package data

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// RedisStateBackend implements StateBackend with one JSON value per breaker in Redis,
// so every instance sees the same circuit.
type RedisStateBackend struct {
	cache  CacheClient
	logger *log.Helper
}

// NewRedisStateBackend creates a Redis-backed breaker state backend.
func NewRedisStateBackend(cache CacheClient, logger log.Logger) *RedisStateBackend {
	return &RedisStateBackend{
		cache:  cache,
		logger: log.NewHelper(log.With(logger, "module", "data/breaker_redis")),
	}
}

func breakerCacheKey(key model.BreakerKey) string {
	return BuildCacheKey(CacheKeyBreaker, key.String())
}

// Load implements StateBackend.
func (r *RedisStateBackend) Load(ctx context.Context, key model.BreakerKey) (*model.BreakerRecord, error) {
	var rec model.BreakerRecord
	if err := r.cache.Get(ctx, breakerCacheKey(key), &rec); err != nil {
		if errors.Is(err, ErrCacheNotFound) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Save implements StateBackend. Each save refreshes the key TTL.
func (r *RedisStateBackend) Save(ctx context.Context, key model.BreakerKey, record *model.BreakerRecord) error {
	return r.cache.Set(ctx, breakerCacheKey(key), record, TTLBreaker)
}

// Delete implements StateBackend.
func (r *RedisStateBackend) Delete(ctx context.Context, key model.BreakerKey) error {
	return r.cache.Delete(ctx, breakerCacheKey(key))
}

// LoadAll implements StateBackend. Keys that expire between SCAN and GET are skipped.
func (r *RedisStateBackend) LoadAll(ctx context.Context) (map[model.BreakerKey]*model.BreakerRecord, error) {
	prefix := CacheKeyBreaker + ":"
	keys, err := r.cache.Keys(ctx, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list breaker states: %w", err)
	}

	out := make(map[model.BreakerKey]*model.BreakerRecord, len(keys))
	for _, k := range keys {
		key, err := model.ParseBreakerKey(strings.TrimPrefix(k, prefix))
		if err != nil {
			r.logger.Warnw("msg", "skipping malformed breaker key", "key", k)
			continue
		}
		rec, err := r.Load(ctx, key)
		if errors.Is(err, ErrStateNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = rec
	}
	return out, nil
}
