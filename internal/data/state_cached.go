package data

import (
	"context"
	"errors"
	"time"

	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultStateCacheSize = 4096
	defaultStateCacheTTL  = 5 * time.Second
)

// CachedStateStore implements biz.StateStore over a durable StateBackend with a
// bounded, expiring local read cache. Writes go to the backend first; the cache only
// ever holds what the backend accepted or returned.
type CachedStateStore struct {
	backend StateBackend
	cache   *expirable.LRU[model.BreakerKey, *model.BreakerRecord]
	now     func() time.Time
	logger  *log.Helper
}

// NewCachedStateStore creates a store caching at most size records for ttl.
func NewCachedStateStore(backend StateBackend, size int, ttl time.Duration, logger log.Logger) *CachedStateStore {
	if size <= 0 {
		size = defaultStateCacheSize
	}
	if ttl <= 0 {
		ttl = defaultStateCacheTTL
	}
	return &CachedStateStore{
		backend: backend,
		cache:   expirable.NewLRU[model.BreakerKey, *model.BreakerRecord](size, nil, ttl),
		now:     time.Now,
		logger:  log.NewHelper(log.With(logger, "module", "data/state_cached")),
	}
}

// GetState implements biz.StateStore. A key unknown to the backend is created as CLOSED
// in the cache; it reaches the backend with the first SetState.
func (s *CachedStateStore) GetState(ctx context.Context, key model.BreakerKey) (*model.BreakerRecord, error) {
	if rec, ok := s.cache.Get(key); ok {
		return rec.Clone(), nil
	}

	rec, err := s.backend.Load(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		rec = model.NewBreakerRecord(s.now())
	case err != nil:
		return nil, err
	}

	s.cache.Add(key, rec.Clone())
	return rec, nil
}

// SetState implements biz.StateStore.
func (s *CachedStateStore) SetState(ctx context.Context, key model.BreakerKey, record *model.BreakerRecord) error {
	if err := s.backend.Save(ctx, key, record); err != nil {
		// A stale cached copy would hide the failed write from the next load.
		s.cache.Remove(key)
		return err
	}
	s.cache.Add(key, record.Clone())
	return nil
}

// DeleteState implements biz.StateStore.
func (s *CachedStateStore) DeleteState(ctx context.Context, key model.BreakerKey) error {
	s.cache.Remove(key)
	if err := s.backend.Delete(ctx, key); err != nil {
		return err
	}
	s.logger.Debugw("msg", "breaker state deleted", "key", key.String())
	return nil
}

// GetAllStates implements biz.StateStore. It always reads the backend.
func (s *CachedStateStore) GetAllStates(ctx context.Context) (map[model.BreakerKey]*model.BreakerRecord, error) {
	return s.backend.LoadAll(ctx)
}
