package biz

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"HookGuard/internal/conf"
	"HookGuard/internal/data"
	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockWindowStore is a mock implementation of WindowStore
type MockWindowStore struct {
	mock.Mock
}

func (m *MockWindowStore) Slide(ctx context.Context, key string, window time.Duration, max int, now time.Time) (model.WindowDecision, error) {
	args := m.Called(ctx, key, window, max, now)
	return args.Get(0).(model.WindowDecision), args.Error(1)
}

func (m *MockWindowStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSlidingWindowLimiter_CheckAndRecord(t *testing.T) {
	l := NewSlidingWindowLimiter(data.NewMemoryWindowStore(0), "ip:", 2, time.Second, log.DefaultLogger)
	start := time.UnixMilli(1_700_000_000_000)
	l.now = fixedClock(start)
	ctx := context.Background()

	d := l.CheckAndRecord(ctx, "10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d = l.CheckAndRecord(ctx, "10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d = l.CheckAndRecord(ctx, "10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(1001), d.ResetInMs)

	l.now = fixedClock(start.Add(1001 * time.Millisecond))
	d = l.CheckAndRecord(ctx, "10.0.0.1")
	assert.True(t, d.Allowed)
}

func TestSlidingWindowLimiter_NoLimit(t *testing.T) {
	store := new(MockWindowStore)
	l := NewSlidingWindowLimiter(store, "", 0, time.Second, log.DefaultLogger)

	d := l.CheckAndRecord(context.Background(), "k")
	assert.True(t, d.Allowed)
	assert.Equal(t, -1, d.Remaining)
	store.AssertNotCalled(t, "Slide")
}

func TestSlidingWindowLimiter_StoreFailureAllows(t *testing.T) {
	store := new(MockWindowStore)
	store.On("Slide", mock.Anything, "tenant:acme", time.Minute, 5, mock.Anything).
		Return(model.WindowDecision{}, errors.New("redis down"))

	l := NewSlidingWindowLimiter(store, "tenant:", 5, time.Minute, log.DefaultLogger)
	d := l.CheckAndRecord(context.Background(), "acme")
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Remaining)
	store.AssertExpectations(t)
}

func tierConf() *conf.Gate {
	return &conf.Gate{
		RateLimit: &conf.RateLimit{
			IP:     &conf.RateTier{Enabled: true, MaxRequests: 3, Window: time.Minute},
			Tenant: &conf.RateTier{Enabled: true, MaxRequests: 5, Window: time.Minute},
			Global: &conf.RateTier{Enabled: true, MaxRequests: 8, Window: time.Minute},
		},
	}
}

func TestMultiTierLimiter_IPTierRejectsFirst(t *testing.T) {
	m := NewMultiTierLimiter(tierConf(), data.NewMemoryWindowStore(0), log.DefaultLogger)
	m.SetClock(fixedClock(time.UnixMilli(1_700_000_000_000)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, m.Check(ctx, "10.0.0.1", "acme").Allowed)
	}
	d := m.Check(ctx, "10.0.0.1", "acme")
	assert.False(t, d.Allowed)
	assert.Equal(t, TierIP, d.FailedTier)
	assert.Equal(t, int64(60001), d.ResetInMs)
}

func TestMultiTierLimiter_TenantTier(t *testing.T) {
	m := NewMultiTierLimiter(tierConf(), data.NewMemoryWindowStore(0), log.DefaultLogger)
	m.SetClock(fixedClock(time.UnixMilli(1_700_000_000_000)))
	ctx := context.Background()

	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"}
	for _, ip := range ips {
		assert.True(t, m.Check(ctx, ip, "acme").Allowed)
	}
	d := m.Check(ctx, "10.0.0.6", "acme")
	assert.False(t, d.Allowed)
	assert.Equal(t, TierTenant, d.FailedTier)

	// another tenant is unaffected
	assert.True(t, m.Check(ctx, "10.0.0.7", "globex").Allowed)
}

func TestMultiTierLimiter_GlobalTier(t *testing.T) {
	m := NewMultiTierLimiter(tierConf(), data.NewMemoryWindowStore(0), log.DefaultLogger)
	m.SetClock(fixedClock(time.UnixMilli(1_700_000_000_000)))
	ctx := context.Background()

	// no tenant: only ip and global tiers apply
	for i := 0; i < 8; i++ {
		ip := fmt.Sprintf("10.1.0.%d", i+1)
		assert.True(t, m.Check(ctx, ip, "").Allowed, ip)
	}
	d := m.Check(ctx, "10.2.0.1", "")
	assert.False(t, d.Allowed)
	assert.Equal(t, TierGlobal, d.FailedTier)
}

func TestMultiTierLimiter_StopsAtFirstRejectingTier(t *testing.T) {
	store := new(MockWindowStore)
	store.On("Slide", mock.Anything, "ip:10.0.0.1", mock.Anything, mock.Anything, mock.Anything).
		Return(model.WindowDecision{Allowed: false, Count: 3, ResetInMs: 500}, nil)

	m := NewMultiTierLimiter(tierConf(), store, log.DefaultLogger)
	d := m.Check(context.Background(), "10.0.0.1", "acme")

	assert.Equal(t, TierIP, d.FailedTier)
	store.AssertNumberOfCalls(t, "Slide", 1)
}

func TestMultiTierLimiter_DisabledTiers(t *testing.T) {
	store := new(MockWindowStore)
	m := NewMultiTierLimiter(&conf.Gate{RateLimit: &conf.RateLimit{
		IP: &conf.RateTier{Enabled: false, MaxRequests: 1, Window: time.Second},
	}}, store, log.DefaultLogger)

	d := m.Check(context.Background(), "10.0.0.1", "acme")
	assert.True(t, d.Allowed)
	assert.Equal(t, -1, d.Remaining)
	store.AssertNotCalled(t, "Slide")
}

func TestMultiTierLimiter_Saturated(t *testing.T) {
	c := tierConf()
	// room for one ip key plus the global key
	m := NewMultiTierLimiter(c, data.NewMemoryWindowStore(2), log.DefaultLogger)
	ctx := context.Background()

	assert.True(t, m.Check(ctx, "10.0.0.1", "").Allowed)
	d := m.Check(ctx, "10.0.0.2", "")
	assert.False(t, d.Allowed)
	assert.True(t, d.Saturated)
	assert.Equal(t, TierIP, d.FailedTier)
}

func TestMultiTierLimiter_Sweep(t *testing.T) {
	store := new(MockWindowStore)
	store.On("Sweep", mock.Anything, mock.Anything).Return(4, nil)

	m := NewMultiTierLimiter(tierConf(), store, log.DefaultLogger)
	n, err := m.Sweep(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}
