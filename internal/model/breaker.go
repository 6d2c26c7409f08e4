package model

import (
	"fmt"
	"strings"
	"time"
)

// CircuitState is the state of one circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// Valid reports whether s is one of the known states.
func (s CircuitState) Valid() bool {
	switch s {
	case CircuitClosed, CircuitOpen, CircuitHalfOpen:
		return true
	}
	return false
}

// BreakerKey identifies a breaker record: one per (tenant, logical service).
type BreakerKey struct {
	TenantID string `json:"tenant_id"`
	Service  string `json:"service"`
}

// String renders the key as tenant:service.
func (k BreakerKey) String() string {
	return k.TenantID + ":" + k.Service
}

// ParseBreakerKey is the inverse of BreakerKey.String. Service names never contain ':'.
func ParseBreakerKey(s string) (BreakerKey, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 || i == len(s)-1 {
		return BreakerKey{}, fmt.Errorf("invalid breaker key %q", s)
	}
	return BreakerKey{TenantID: s[:i], Service: s[i+1:]}, nil
}

// BreakerRecord is the persisted state of one circuit breaker.
//
// Invariants: State == CircuitOpen implies OpenedAt != nil; ConsecutiveFailures is
// reset by any success in CLOSED; ConsecutiveSuccesses is reset by any failure.
type BreakerRecord struct {
	State                CircuitState `json:"state"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	OpenedAt             *time.Time   `json:"opened_at,omitempty"`
	LastFailureAt        *time.Time   `json:"last_failure_at,omitempty"`
	LastError            *string      `json:"last_error,omitempty"`
	// TotalExecutions counts executions since the circuit last closed.
	TotalExecutions int64     `json:"total_executions"`
	LastStateChange time.Time `json:"last_state_change"`
}

// NewBreakerRecord returns the initial CLOSED record.
func NewBreakerRecord(now time.Time) *BreakerRecord {
	return &BreakerRecord{
		State:           CircuitClosed,
		LastStateChange: now,
	}
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (r *BreakerRecord) Clone() *BreakerRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.OpenedAt != nil {
		t := *r.OpenedAt
		c.OpenedAt = &t
	}
	if r.LastFailureAt != nil {
		t := *r.LastFailureAt
		c.LastFailureAt = &t
	}
	if r.LastError != nil {
		s := *r.LastError
		c.LastError = &s
	}
	return &c
}

// StateChange describes one breaker transition.
type StateChange struct {
	Key       BreakerKey
	From      CircuitState
	To        CircuitState
	At        time.Time
	LastError string
	// ConsecutiveFailures at the time of the transition.
	ConsecutiveFailures int
	// OpenDuration is how long the circuit was not CLOSED, set when To is CLOSED.
	OpenDuration time.Duration
	// Probes is the number of successful probes that closed the circuit.
	Probes int
}

// CircuitOpenedEvent is sent to notifiers when a circuit opens.
type CircuitOpenedEvent struct {
	Key                 BreakerKey
	ConsecutiveFailures int
	LastError           string
	OpenedAt            time.Time
}

// CircuitClosedEvent is sent to notifiers when a circuit recovers.
type CircuitClosedEvent struct {
	Key         BreakerKey
	ProbeCount  int
	RecoverTime time.Duration
}
