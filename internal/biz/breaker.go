package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"HookGuard/internal/conf"
	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultFailureThreshold = 5
	defaultVolumeThreshold  = 10
	defaultSuccessThreshold = 1
	defaultRecoveryTimeout  = 30 * time.Second
	defaultCallTimeout      = 5 * time.Second
)

var (
	// ErrCircuitOpen is carried on results short-circuited by an OPEN circuit.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrOperationTimeout is carried on results whose operation exceeded the call timeout.
	ErrOperationTimeout = errors.New("operation timed out")
	// ErrServiceUnavailable may be wrapped by operations to select the serviceUnavailable
	// fallback instead of systemError. It still counts as a failure.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ExecutionOutcome is how one wrapped call ended.
type ExecutionOutcome string

const (
	OutcomeSuccess     ExecutionOutcome = "success"
	OutcomeFailure     ExecutionOutcome = "failure"
	OutcomeTimeout     ExecutionOutcome = "timeout"
	OutcomeCircuitOpen ExecutionOutcome = "circuit_open"
)

// Operation is a call to a fragile dependency. ctx is cancelled when the call timeout
// elapses.
type Operation func(ctx context.Context) (any, error)

// ExecutionResult is returned by every Execute call. Operation errors are carried
// here and never returned across Execute.
type ExecutionResult struct {
	Outcome  ExecutionOutcome
	Value    any
	Err      error
	Duration time.Duration
	// UsedFallback is set for every non-success outcome.
	UsedFallback bool
	Fallback     *FallbackEntry
	// State is the breaker state observed when the call completed.
	State model.CircuitState
}

// Success reports whether the operation completed without error.
func (r *ExecutionResult) Success() bool {
	return r.Outcome == OutcomeSuccess
}

type executeOptions struct {
	fallbackValue any
	hasFallback   bool
	language      Language
	timeout       time.Duration
}

// ExecuteOption customizes one Execute call.
type ExecuteOption func(*executeOptions)

// WithFallbackValue sets the value returned in place of the operation result on any
// non-success outcome.
func WithFallbackValue(v any) ExecuteOption {
	return func(o *executeOptions) {
		o.fallbackValue = v
		o.hasFallback = true
	}
}

// WithLanguage selects the language of the fallback message.
func WithLanguage(lang Language) ExecuteOption {
	return func(o *executeOptions) { o.language = lang }
}

// WithTimeout overrides the configured call timeout.
func WithTimeout(d time.Duration) ExecuteOption {
	return func(o *executeOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// BreakerSettings are the thresholds of the state machine.
type BreakerSettings struct {
	FailureThreshold int           `json:"failure_threshold"`
	VolumeThreshold  int           `json:"volume_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	Timeout          time.Duration `json:"timeout"`
}

// NewBreakerSettings applies defaults to c.
func NewBreakerSettings(c *conf.Breaker) BreakerSettings {
	s := BreakerSettings{
		FailureThreshold: defaultFailureThreshold,
		VolumeThreshold:  defaultVolumeThreshold,
		SuccessThreshold: defaultSuccessThreshold,
		RecoveryTimeout:  defaultRecoveryTimeout,
		Timeout:          defaultCallTimeout,
	}
	if c == nil {
		return s
	}
	if c.FailureThreshold > 0 {
		s.FailureThreshold = c.FailureThreshold
	}
	if c.VolumeThreshold > 0 {
		s.VolumeThreshold = c.VolumeThreshold
	}
	if c.SuccessThreshold > 0 {
		s.SuccessThreshold = c.SuccessThreshold
	}
	if c.RecoveryTimeout > 0 {
		s.RecoveryTimeout = c.RecoveryTimeout
	}
	if c.Timeout > 0 {
		s.Timeout = c.Timeout
	}
	return s
}

// StateChangeHook observes breaker transitions. Hooks run after the record is saved,
// outside any lock, and must not block.
type StateChangeHook func(change model.StateChange)

// CircuitBreaker wraps calls to fragile dependencies with a per (tenant, service)
// state machine persisted in a StateStore.
type CircuitBreaker struct {
	settings BreakerSettings
	store    StateStore
	catalog  *FallbackCatalog
	audit    AuditLogger
	notifier BreakerNotifier
	logger   *log.Helper
	now      func() time.Time

	locks sync.Map // key string -> *sync.Mutex

	hooksMu sync.RWMutex
	hooks   []StateChangeHook
}

// NewCircuitBreaker creates a breaker. audit and notifier may be nil.
func NewCircuitBreaker(c *conf.Breaker, store StateStore, catalog *FallbackCatalog, audit AuditLogger, notifier BreakerNotifier, logger log.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		settings: NewBreakerSettings(c),
		store:    store,
		catalog:  catalog,
		audit:    audit,
		notifier: notifier,
		logger:   log.NewHelper(log.With(logger, "module", "biz/breaker")),
		now:      time.Now,
	}
}

// Settings returns the effective thresholds.
func (b *CircuitBreaker) Settings() BreakerSettings {
	return b.settings
}

// OnStateChange registers a transition hook.
func (b *CircuitBreaker) OnStateChange(hook StateChangeHook) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.hooks = append(b.hooks, hook)
}

func (b *CircuitBreaker) lockFor(key model.BreakerKey) *sync.Mutex {
	mu, _ := b.locks.LoadOrStore(key.String(), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Execute runs op under the breaker of key.
//
// An OPEN circuit short-circuits to a fallback until the recovery timeout has elapsed;
// the next call then moves the circuit to HALF_OPEN and runs as a probe. Every call is
// bounded by the call timeout and settles exactly once: a late result is discarded.
func (b *CircuitBreaker) Execute(ctx context.Context, key model.BreakerKey, op Operation, opts ...ExecuteOption) *ExecutionResult {
	o := executeOptions{timeout: b.settings.Timeout}
	for _, opt := range opts {
		opt(&o)
	}
	start := b.now()
	var changes []model.StateChange

	// admission
	mu := b.lockFor(key)
	mu.Lock()
	rec := b.load(ctx, key)
	if rec.State == model.CircuitOpen {
		if rec.OpenedAt != nil && b.now().Sub(*rec.OpenedAt) < b.settings.RecoveryTimeout {
			mu.Unlock()
			return b.result(key, OutcomeCircuitOpen, nil, ErrCircuitOpen, start, rec.State, o)
		}
		changes = append(changes, b.transition(key, rec, model.CircuitHalfOpen))
		rec.ConsecutiveSuccesses = 0
		b.save(ctx, key, rec)
	}
	mu.Unlock()
	b.emit(ctx, changes)

	value, outcome, err := b.run(ctx, op, o.timeout)

	// record
	mu.Lock()
	rec = b.load(ctx, key)
	changes = b.apply(key, rec, outcome, err)
	b.save(ctx, key, rec)
	state := rec.State
	mu.Unlock()
	b.emit(ctx, changes)

	return b.result(key, outcome, value, err, start, state, o)
}

type opResult struct {
	value any
	err   error
}

// run races op against a timer. The result channel is buffered so a late op never
// blocks; whichever of op and timer finishes first settles the call.
func (b *CircuitBreaker) run(ctx context.Context, op Operation, timeout time.Duration) (any, ExecutionOutcome, error) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan opResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- opResult{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		v, err := op(opCtx)
		done <- opResult{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			// op gave up on its own deadline just before the timer fired
			if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
				return nil, OutcomeTimeout, fmt.Errorf("%w after %s: %w", ErrOperationTimeout, timeout, r.err)
			}
			return nil, OutcomeFailure, r.err
		}
		return r.value, OutcomeSuccess, nil
	case <-timer.C:
		return nil, OutcomeTimeout, fmt.Errorf("%w after %s", ErrOperationTimeout, timeout)
	}
}

// apply folds one completed call into rec and returns the transitions it caused.
func (b *CircuitBreaker) apply(key model.BreakerKey, rec *model.BreakerRecord, outcome ExecutionOutcome, err error) []model.StateChange {
	now := b.now()
	rec.TotalExecutions++

	if outcome == OutcomeSuccess {
		switch rec.State {
		case model.CircuitClosed:
			rec.ConsecutiveFailures = 0
		case model.CircuitHalfOpen:
			rec.ConsecutiveSuccesses++
			if rec.ConsecutiveSuccesses >= b.settings.SuccessThreshold {
				change := b.transition(key, rec, model.CircuitClosed)
				rec.ConsecutiveFailures = 0
				rec.ConsecutiveSuccesses = 0
				rec.TotalExecutions = 0
				rec.OpenedAt = nil
				return []model.StateChange{change}
			}
		}
		// OPEN: a call admitted before another call reopened the circuit; the
		// success does not close it.
		return nil
	}

	msg := err.Error()
	rec.ConsecutiveFailures++
	rec.ConsecutiveSuccesses = 0
	rec.LastFailureAt = &now
	rec.LastError = &msg

	switch rec.State {
	case model.CircuitClosed:
		if rec.ConsecutiveFailures >= b.settings.FailureThreshold &&
			rec.TotalExecutions >= int64(b.settings.VolumeThreshold) {
			change := b.transition(key, rec, model.CircuitOpen)
			rec.OpenedAt = &now
			return []model.StateChange{change}
		}
	case model.CircuitHalfOpen:
		change := b.transition(key, rec, model.CircuitOpen)
		rec.OpenedAt = &now
		return []model.StateChange{change}
	}
	return nil
}

// transition moves rec to state and describes the change.
func (b *CircuitBreaker) transition(key model.BreakerKey, rec *model.BreakerRecord, to model.CircuitState) model.StateChange {
	now := b.now()
	change := model.StateChange{
		Key:                 key,
		From:                rec.State,
		To:                  to,
		At:                  now,
		ConsecutiveFailures: rec.ConsecutiveFailures,
	}
	if rec.LastError != nil {
		change.LastError = *rec.LastError
	}
	if to == model.CircuitClosed {
		if rec.OpenedAt != nil {
			change.OpenDuration = now.Sub(*rec.OpenedAt)
		}
		change.Probes = rec.ConsecutiveSuccesses
	}
	rec.State = to
	rec.LastStateChange = now
	return change
}

// load reads the record of key. A store failure degrades to an initial CLOSED record
// so an unreachable store never blocks traffic.
func (b *CircuitBreaker) load(ctx context.Context, key model.BreakerKey) *model.BreakerRecord {
	rec, err := b.store.GetState(ctx, key)
	if err != nil || rec == nil {
		b.logger.Warnw("msg", "breaker state load failed (degraded mode: assume CLOSED)",
			"type", "breaker",
			"key", key.String(),
			"error", err)
		return model.NewBreakerRecord(b.now())
	}
	if !rec.State.Valid() {
		b.logger.Warnw("msg", "breaker state corrupt (degraded mode: assume CLOSED)",
			"type", "breaker",
			"key", key.String(),
			"state", rec.State)
		return model.NewBreakerRecord(b.now())
	}
	return rec
}

func (b *CircuitBreaker) save(ctx context.Context, key model.BreakerKey, rec *model.BreakerRecord) {
	if err := b.store.SetState(ctx, key, rec); err != nil {
		b.logger.Warnw("msg", "breaker state save failed",
			"type", "breaker",
			"key", key.String(),
			"state", rec.State,
			"error", err)
	}
}

func (b *CircuitBreaker) emit(ctx context.Context, changes []model.StateChange) {
	if len(changes) == 0 {
		return
	}
	b.hooksMu.RLock()
	hooks := append([]StateChangeHook(nil), b.hooks...)
	b.hooksMu.RUnlock()

	for i := range changes {
		change := changes[i]
		b.logger.Infow("msg", "circuit state changed",
			"type", "breaker",
			"key", change.Key.String(),
			"from", change.From,
			"to", change.To,
			"last_error", change.LastError)

		if b.audit != nil {
			b.audit.LogCircuitTransition(ctx, &change)
		}
		b.notify(ctx, change)
		for _, hook := range hooks {
			hook(change)
		}
	}
}

func (b *CircuitBreaker) notify(ctx context.Context, change model.StateChange) {
	if b.notifier == nil {
		return
	}
	var err error
	switch change.To {
	case model.CircuitOpen:
		err = b.notifier.NotifyCircuitOpened(ctx, &model.CircuitOpenedEvent{
			Key:                 change.Key,
			ConsecutiveFailures: change.ConsecutiveFailures,
			LastError:           change.LastError,
			OpenedAt:            change.At,
		})
	case model.CircuitClosed:
		err = b.notifier.NotifyCircuitClosed(ctx, &model.CircuitClosedEvent{
			Key:         change.Key,
			ProbeCount:  change.Probes,
			RecoverTime: change.OpenDuration,
		})
	}
	if err != nil {
		b.logger.Warnw("msg", "breaker notification failed", "key", change.Key.String(), "error", err)
	}
}

func (b *CircuitBreaker) result(key model.BreakerKey, outcome ExecutionOutcome, value any, err error, start time.Time, state model.CircuitState, o executeOptions) *ExecutionResult {
	r := &ExecutionResult{
		Outcome:  outcome,
		Value:    value,
		Err:      err,
		Duration: b.now().Sub(start),
		State:    state,
	}
	if outcome == OutcomeSuccess {
		return r
	}

	r.UsedFallback = true
	r.Value = nil
	if o.hasFallback {
		r.Value = o.fallbackValue
	}
	if b.catalog != nil {
		entry := b.catalog.Get(fallbackKindFor(outcome, err), o.language)
		r.Fallback = &entry
	}
	b.logger.Debugw("msg", "breaker fallback",
		"type", "breaker",
		"key", key.String(),
		"outcome", outcome,
		"state", state,
		"error", err)
	return r
}

func fallbackKindFor(outcome ExecutionOutcome, err error) FallbackKind {
	switch outcome {
	case OutcomeTimeout:
		return FallbackTimeout
	case OutcomeCircuitOpen:
		return FallbackCircuitOpen
	}
	if errors.Is(err, ErrServiceUnavailable) {
		return FallbackServiceUnavailable
	}
	return FallbackSystemError
}

// State returns the current record of key.
func (b *CircuitBreaker) State(ctx context.Context, key model.BreakerKey) (*model.BreakerRecord, error) {
	return b.store.GetState(ctx, key)
}

// States returns every stored record.
func (b *CircuitBreaker) States(ctx context.Context) (map[model.BreakerKey]*model.BreakerRecord, error) {
	return b.store.GetAllStates(ctx)
}

// Reset deletes the record of key so the next call starts from CLOSED.
func (b *CircuitBreaker) Reset(ctx context.Context, key model.BreakerKey, operator string) error {
	mu := b.lockFor(key)
	mu.Lock()
	prev, loadErr := b.store.GetState(ctx, key)
	err := b.store.DeleteState(ctx, key)
	mu.Unlock()
	if err != nil {
		return fmt.Errorf("reset breaker %s: %w", key, err)
	}

	if b.audit != nil {
		b.audit.LogCircuitReset(ctx, key, operator)
	}
	b.logger.Infow("msg", "circuit breaker reset", "type", "breaker", "key", key.String(), "operator", operator)

	if loadErr == nil && prev != nil && prev.State != model.CircuitClosed {
		b.hooksMu.RLock()
		hooks := append([]StateChangeHook(nil), b.hooks...)
		b.hooksMu.RUnlock()
		change := model.StateChange{Key: key, From: prev.State, To: model.CircuitClosed, At: b.now()}
		for _, hook := range hooks {
			hook(change)
		}
	}
	return nil
}
