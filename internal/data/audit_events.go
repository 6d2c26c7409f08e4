package data

import (
	"time"

	"HookGuard/internal/model"
)

// gateRejectionDetails is the details column of a GATE_REJECTED row.
type gateRejectionDetails struct {
	RequestID     string            `json:"request_id"`
	ClientIP      string            `json:"client_ip"`
	FailedAtLayer string            `json:"failed_at_layer"`
	FailedLayers  map[string]string `json:"failed_layers"`
}

// transitionDetails is the details column of a breaker transition row.
type transitionDetails struct {
	From                string  `json:"from"`
	To                  string  `json:"to"`
	ConsecutiveFailures int     `json:"consecutive_failures,omitempty"`
	LastError           string  `json:"last_error,omitempty"`
	OpenSeconds         float64 `json:"open_seconds,omitempty"`
	Probes              int     `json:"probes,omitempty"`
}

// transitionEventType maps the target state of a transition to its audit event.
func transitionEventType(to model.CircuitState) model.AuditEventType {
	switch to {
	case model.CircuitOpen:
		return model.AuditEventCircuitOpened
	case model.CircuitHalfOpen:
		return model.AuditEventCircuitHalfOpen
	default:
		return model.AuditEventCircuitClosed
	}
}

func newTransitionDetails(c *model.StateChange) transitionDetails {
	d := transitionDetails{
		From:                string(c.From),
		To:                  string(c.To),
		ConsecutiveFailures: c.ConsecutiveFailures,
		LastError:           c.LastError,
		Probes:              c.Probes,
	}
	if c.OpenDuration > 0 {
		d.OpenSeconds = c.OpenDuration.Round(time.Millisecond).Seconds()
	}
	return d
}
