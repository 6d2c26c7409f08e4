package data

import (
	"context"
	"sync"
	"time"

	"HookGuard/internal/model"
)

// MemoryStateStore implements biz.StateStore with a process-local map.
// Records are copied in and out so callers never share state with the store.
type MemoryStateStore struct {
	mu      sync.RWMutex
	records map[model.BreakerKey]*model.BreakerRecord
	now     func() time.Time
}

// NewMemoryStateStore creates an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		records: make(map[model.BreakerKey]*model.BreakerRecord),
		now:     time.Now,
	}
}

// GetState implements biz.StateStore. A missing key is created as CLOSED.
func (s *MemoryStateStore) GetState(_ context.Context, key model.BreakerKey) (*model.BreakerRecord, error) {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if ok {
		return rec.Clone(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok = s.records[key]; !ok {
		rec = model.NewBreakerRecord(s.now())
		s.records[key] = rec
	}
	return rec.Clone(), nil
}

// SetState implements biz.StateStore.
func (s *MemoryStateStore) SetState(_ context.Context, key model.BreakerKey, record *model.BreakerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = record.Clone()
	return nil
}

// DeleteState implements biz.StateStore.
func (s *MemoryStateStore) DeleteState(_ context.Context, key model.BreakerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// GetAllStates implements biz.StateStore.
func (s *MemoryStateStore) GetAllStates(_ context.Context) (map[model.BreakerKey]*model.BreakerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.BreakerKey]*model.BreakerRecord, len(s.records))
	for k, rec := range s.records {
		out[k] = rec.Clone()
	}
	return out, nil
}
