package main

import (
	"context"
	"fmt"
	"time"

	"HookGuard/internal/biz"
	"HookGuard/internal/conf"
	"HookGuard/internal/model"
	pkglog "HookGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const (
	defaultSweepSpec   = "@every 1m"
	breakerSummarySpec = "0 */5 * * * *"
	jobTimeout         = 30 * time.Second
)

// windowSweeper drops idle rate limit windows.
type windowSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// breakerLister reads every breaker record.
type breakerLister interface {
	States(ctx context.Context) (map[model.BreakerKey]*model.BreakerRecord, error)
}

// Scheduler runs the periodic maintenance jobs of the service.
type Scheduler struct {
	cron    *cron.Cron
	windows windowSweeper
	states  breakerLister
	logger  *pkglog.LogHelper
}

// NewScheduler registers the jobs. It does not start them.
//
// Jobs:
//   - window sweep, every gate.rate_limit.sweep_spec (default every minute)
//   - breaker summary, every 5 minutes: counts circuits per state, warns on open ones
func NewScheduler(c *conf.Gate, limiter *biz.MultiTierLimiter, breaker *biz.CircuitBreaker, logger log.Logger) (*Scheduler, error) {
	return newScheduler(c, limiter, breaker, logger)
}

func newScheduler(c *conf.Gate, windows windowSweeper, states breakerLister, logger log.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		windows: windows,
		states:  states,
		logger:  pkglog.NewLogHelper(log.With(logger, "module", "cmd/scheduler")),
	}

	sweepSpec := defaultSweepSpec
	if c != nil && c.RateLimit != nil && c.RateLimit.SweepSpec != "" {
		sweepSpec = c.RateLimit.SweepSpec
	}
	if _, err := s.cron.AddFunc(sweepSpec, s.sweepWindows); err != nil {
		return nil, fmt.Errorf("failed to register window sweep job %q: %w", sweepSpec, err)
	}
	if _, err := s.cron.AddFunc(breakerSummarySpec, s.summarizeBreakers); err != nil {
		return nil, fmt.Errorf("failed to register breaker summary job: %w", err)
	}
	return s, nil
}

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Scheduler("Scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts the scheduler and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Scheduler("Scheduler stopped")
}

func (s *Scheduler) sweepWindows() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	dropped, err := s.windows.Sweep(ctx)
	if err != nil {
		s.logger.Errorw("msg", "rate limit window sweep failed", "type", "scheduler", "error", err)
		return
	}
	if dropped > 0 {
		s.logger.Scheduler("Rate limit windows swept", "dropped", dropped)
	}
}

func (s *Scheduler) summarizeBreakers() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	states, err := s.states.States(ctx)
	if err != nil {
		s.logger.Errorw("msg", "breaker summary failed", "type", "scheduler", "error", err)
		return
	}

	counts := map[model.CircuitState]int{}
	for key, rec := range states {
		counts[rec.State]++
		if rec.State == model.CircuitOpen {
			s.logger.Breaker("Circuit still open", string(rec.State),
				"key", key.String(),
				"opened_at", rec.OpenedAt,
				"consecutive_failures", rec.ConsecutiveFailures,
			)
		}
	}
	s.logger.Scheduler("Breaker summary",
		"total", len(states),
		"closed", counts[model.CircuitClosed],
		"half_open", counts[model.CircuitHalfOpen],
		"open", counts[model.CircuitOpen],
	)
}
