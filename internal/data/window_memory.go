package data

import (
	"context"
	"sync"
	"time"

	"HookGuard/internal/conf"
	"HookGuard/internal/model"
)

// DefaultMaxTrackedKeys caps the keys a MemoryWindowStore tracks when unconfigured.
const DefaultMaxTrackedKeys = 10000

// saturatedSweepInterval is the minimum gap between sweeps triggered by new keys at the cap.
const saturatedSweepInterval = time.Second

type windowSlot struct {
	entry    *model.WindowEntry
	windowMs int64
}

// MemoryWindowStore implements biz.WindowStore in process memory.
//
// The number of tracked keys is capped. When a new key arrives at the cap, expired keys
// are swept first (at most once per saturatedSweepInterval); if the store is still full
// the new key is refused as rate limited. Existing keys are never evicted to make room.
type MemoryWindowStore struct {
	mu          sync.Mutex
	slots       map[string]*windowSlot
	maxKeys     int
	lastSweepMs int64
}

// NewMemoryWindowStore creates a store tracking at most maxKeys keys.
func NewMemoryWindowStore(maxKeys int) *MemoryWindowStore {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxTrackedKeys
	}
	return &MemoryWindowStore{
		slots:   make(map[string]*windowSlot),
		maxKeys: maxKeys,
	}
}

// newMemoryWindowStoreFromConf reads the key cap from the gate config.
func newMemoryWindowStoreFromConf(c *conf.Gate) *MemoryWindowStore {
	if c == nil || c.RateLimit == nil {
		return NewMemoryWindowStore(0)
	}
	return NewMemoryWindowStore(c.RateLimit.MaxTrackedKeys)
}

// Slide implements biz.WindowStore. The whole check-and-record runs under one lock.
func (s *MemoryWindowStore) Slide(_ context.Context, key string, window time.Duration, max int, now time.Time) (model.WindowDecision, error) {
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[key]
	if !ok {
		if len(s.slots) >= s.maxKeys && nowMs-s.lastSweepMs >= saturatedSweepInterval.Milliseconds() {
			s.sweepLocked(nowMs)
		}
		if len(s.slots) >= s.maxKeys {
			return model.WindowDecision{
				Allowed:   false,
				ResetInMs: windowMs,
				Saturated: true,
			}, nil
		}
		slot = &windowSlot{entry: model.NewWindowEntry(nowMs)}
		s.slots[key] = slot
	}
	slot.windowMs = windowMs

	return slot.entry.Slide(nowMs, windowMs, max), nil
}

// Sweep implements biz.WindowStore.
func (s *MemoryWindowStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now.UnixMilli()), nil
}

func (s *MemoryWindowStore) sweepLocked(nowMs int64) int {
	s.lastSweepMs = nowMs
	removed := 0
	for key, slot := range s.slots {
		slot.entry.Prune(nowMs, slot.windowMs)
		if slot.entry.Empty() {
			delete(s.slots, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
