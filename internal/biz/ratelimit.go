package biz

import (
	"context"
	"time"

	"HookGuard/internal/conf"
	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Rate limit tiers, evaluated in this order.
const (
	TierIP     = "ip"
	TierTenant = "tenant"
	TierGlobal = "global"
)

// RateDecision is the result of SlidingWindowLimiter.CheckAndRecord.
type RateDecision struct {
	Allowed   bool
	Remaining int
	ResetInMs int64
	Count     int
	Saturated bool
}

// SlidingWindowLimiter counts requests per key over a trailing window.
type SlidingWindowLimiter struct {
	store       WindowStore
	prefix      string
	maxRequests int
	window      time.Duration
	now         func() time.Time
	logger      *log.Helper
}

// NewSlidingWindowLimiter creates a limiter whose keys are namespaced by prefix.
func NewSlidingWindowLimiter(store WindowStore, prefix string, maxRequests int, window time.Duration, logger log.Logger) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		store:       store,
		prefix:      prefix,
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		logger:      log.NewHelper(log.With(logger, "module", "biz/ratelimit")),
	}
}

// CheckAndRecord prunes the window of key, then admits and records the request if the
// window holds fewer than maxRequests entries.
// Store degradation: on store failure, logs warning and allows request.
func (l *SlidingWindowLimiter) CheckAndRecord(ctx context.Context, key string) RateDecision {
	if l.maxRequests <= 0 || l.window <= 0 {
		// No limit configured, allow request
		return RateDecision{Allowed: true, Remaining: -1}
	}

	d, err := l.store.Slide(ctx, l.prefix+key, l.window, l.maxRequests, l.now())
	if err != nil {
		l.logger.Warnf("window store failed for key %s: %v (request allowed)", l.prefix+key, err)
		return RateDecision{Allowed: true, Remaining: l.maxRequests}
	}
	return fromWindowDecision(d)
}

func fromWindowDecision(d model.WindowDecision) RateDecision {
	return RateDecision{
		Allowed:   d.Allowed,
		Remaining: d.Remaining,
		ResetInMs: d.ResetInMs,
		Count:     d.Count,
		Saturated: d.Saturated,
	}
}

// TierDecision is the result of MultiTierLimiter.Check.
type TierDecision struct {
	// FailedTier is the tier that rejected, empty when Allowed.
	FailedTier string
	RateDecision
}

// MultiTierLimiter checks the ip, tenant and global tiers in order and stops at the
// first tier that rejects.
type MultiTierLimiter struct {
	ip     *SlidingWindowLimiter
	tenant *SlidingWindowLimiter
	global *SlidingWindowLimiter
	store  WindowStore
	logger *log.Helper
}

// NewMultiTierLimiter builds the tiers enabled in c. A nil tier is never checked.
func NewMultiTierLimiter(c *conf.Gate, store WindowStore, logger log.Logger) *MultiTierLimiter {
	m := &MultiTierLimiter{
		store:  store,
		logger: log.NewHelper(log.With(logger, "module", "biz/ratelimit")),
	}
	if c == nil || c.RateLimit == nil {
		return m
	}
	rl := c.RateLimit
	m.ip = tierLimiter(store, "ip:", rl.IP, logger)
	m.tenant = tierLimiter(store, "tenant:", rl.Tenant, logger)
	m.global = tierLimiter(store, "", rl.Global, logger)
	return m
}

func tierLimiter(store WindowStore, prefix string, t *conf.RateTier, logger log.Logger) *SlidingWindowLimiter {
	if t == nil || !t.Enabled {
		return nil
	}
	return NewSlidingWindowLimiter(store, prefix, t.MaxRequests, t.Window, logger)
}

// SetClock replaces the time source of every tier.
func (m *MultiTierLimiter) SetClock(now func() time.Time) {
	for _, l := range []*SlidingWindowLimiter{m.ip, m.tenant, m.global} {
		if l != nil {
			l.now = now
		}
	}
}

// Check runs the ip tier, the tenant tier when tenantID is known, then the global tier.
func (m *MultiTierLimiter) Check(ctx context.Context, clientIP, tenantID string) TierDecision {
	last := TierDecision{RateDecision: RateDecision{Allowed: true, Remaining: -1}}

	type step struct {
		name    string
		limiter *SlidingWindowLimiter
		key     string
	}
	steps := []step{{TierIP, m.ip, clientIP}}
	if tenantID != "" {
		steps = append(steps, step{TierTenant, m.tenant, tenantID})
	}
	steps = append(steps, step{TierGlobal, m.global, "global"})

	for _, s := range steps {
		if s.limiter == nil {
			continue
		}
		d := s.limiter.CheckAndRecord(ctx, s.key)
		if !d.Allowed {
			m.logger.Debugw("msg", "rate limit tier rejected",
				"tier", s.name,
				"count", d.Count,
				"reset_in_ms", d.ResetInMs)
			return TierDecision{FailedTier: s.name, RateDecision: d}
		}
		last = TierDecision{RateDecision: d}
	}
	return last
}

// Sweep drops expired window keys. Called periodically by the cron server.
func (m *MultiTierLimiter) Sweep(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	return m.store.Sweep(ctx, time.Now())
}
