package model

import "time"

// AuditEventType names an audit log entry.
type AuditEventType string

const (
	AuditEventGateRejected     AuditEventType = "GATE_REJECTED"
	AuditEventCircuitOpened    AuditEventType = "CIRCUIT_OPENED"
	AuditEventCircuitHalfOpen  AuditEventType = "CIRCUIT_HALF_OPEN"
	AuditEventCircuitClosed    AuditEventType = "CIRCUIT_CLOSED"
	AuditEventCircuitResetByOp AuditEventType = "CIRCUIT_RESET"
)

// String returns the string representation of AuditEventType
func (e AuditEventType) String() string {
	return string(e)
}

// GateRejection summarizes a failed security verdict for the audit trail.
// It never carries signatures or secrets.
type GateRejection struct {
	RequestID     string
	TenantID      string
	ClientIP      string
	FailedAtLayer string
	// FailedLayers lists every failing layer in pipeline order (more than one only in
	// accumulate mode) with its reason.
	FailedLayers map[string]string
	At           time.Time
}
