package data

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// auditQueueSize bounds the pending audit rows. Producers never block on a full queue.
const auditQueueSize = 1000

// Rejection log lines share the gate's budget: 10 per second, bursts of 20.
const (
	rejectionLogRate  = rate.Limit(10)
	rejectionLogBurst = 20
)

// AuditLog is the GORM model for webhook_audit_logs table
type AuditLog struct {
	ID        int64  `gorm:"primaryKey;column:id"`
	EventType string `gorm:"column:event_type;type:varchar(32);not null;index"`
	TenantID  string `gorm:"column:tenant_id;type:varchar(128);not null;default:'';index"`
	// Subject is the breaker key for transitions and the client address for rejections.
	Subject   string    `gorm:"column:subject;type:varchar(255);not null"`
	Details   string    `gorm:"column:details;type:json"`
	Operator  string    `gorm:"column:operator;type:varchar(64);not null;default:'system'"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "webhook_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger. Every event is written to the structured
// log; when a database is configured it is also queued for an async insert.
type AuditLoggerImpl struct {
	db      *gorm.DB
	logChan chan *AuditLog
	done    chan struct{}
	once    sync.Once
	logger  *log.Helper

	rejectLogs *rate.Limiter
	suppressed atomic.Int64
}

// NewAuditLogger creates a new audit logger with async channel. db may be nil.
func NewAuditLogger(db *gorm.DB, logger log.Logger) *AuditLoggerImpl {
	al := &AuditLoggerImpl{
		db:         db,
		done:       make(chan struct{}),
		logger:     log.NewHelper(log.With(logger, "module", "data/audit")),
		rejectLogs: rate.NewLimiter(rejectionLogRate, rejectionLogBurst),
	}
	if db == nil {
		close(al.done)
		return al
	}

	al.logChan = make(chan *AuditLog, auditQueueSize)
	go al.start()
	return al
}

// Migrate creates or updates the webhook_audit_logs table.
func (a *AuditLoggerImpl) Migrate(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.WithContext(ctx).AutoMigrate(&AuditLog{})
}

// start processes audit log events from channel
func (a *AuditLoggerImpl) start() {
	defer close(a.done)
	for event := range a.logChan {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.db.WithContext(ctx).Create(event).Error; err != nil {
			a.logger.Errorw("msg", "failed to write audit log",
				"event_type", event.EventType,
				"subject", event.Subject,
				"error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits until queued rows are written.
func (a *AuditLoggerImpl) Close() {
	a.once.Do(func() {
		if a.logChan != nil {
			close(a.logChan)
		}
	})
	<-a.done
}

// LogGateRejection implements biz.AuditLogger. Every rejection is queued for the
// database; the log line is throttled.
func (a *AuditLoggerImpl) LogGateRejection(_ context.Context, r *model.GateRejection) {
	if a.rejectLogs.Allow() {
		a.logger.Infow("msg", "audit: webhook rejected",
			"event_type", model.AuditEventGateRejected,
			"request_id", r.RequestID,
			"tenant_id", r.TenantID,
			"client_ip", r.ClientIP,
			"failed_at_layer", r.FailedAtLayer,
			"failed_layers", r.FailedLayers,
			"suppressed_since_last", a.suppressed.Swap(0))
	} else {
		a.suppressed.Add(1)
	}

	a.enqueue(model.AuditEventGateRejected, r.TenantID, r.ClientIP, "system", gateRejectionDetails{
		RequestID:     r.RequestID,
		ClientIP:      r.ClientIP,
		FailedAtLayer: r.FailedAtLayer,
		FailedLayers:  r.FailedLayers,
	})
}

// LogCircuitTransition implements biz.AuditLogger.
func (a *AuditLoggerImpl) LogCircuitTransition(_ context.Context, c *model.StateChange) {
	eventType := transitionEventType(c.To)
	a.logger.Infow("msg", "audit: circuit transition",
		"event_type", eventType,
		"key", c.Key.String(),
		"from", c.From,
		"to", c.To,
		"consecutive_failures", c.ConsecutiveFailures)

	a.enqueue(eventType, c.Key.TenantID, c.Key.String(), "system", newTransitionDetails(c))
}

// LogCircuitReset implements biz.AuditLogger.
func (a *AuditLoggerImpl) LogCircuitReset(_ context.Context, key model.BreakerKey, operator string) {
	if operator == "" {
		operator = "admin"
	}
	a.logger.Infow("msg", "audit: circuit reset",
		"event_type", model.AuditEventCircuitResetByOp,
		"key", key.String(),
		"operator", operator)

	a.enqueue(model.AuditEventCircuitResetByOp, key.TenantID, key.String(), operator, map[string]string{
		"key": key.String(),
	})
}

// enqueue sends a row to the writer (non-blocking).
func (a *AuditLoggerImpl) enqueue(eventType model.AuditEventType, tenantID, subject, operator string, details interface{}) {
	if a.logChan == nil {
		return
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details", "error", err)
		return
	}

	event := &AuditLog{
		EventType: eventType.String(),
		TenantID:  tenantID,
		Subject:   subject,
		Details:   string(detailsJSON),
		Operator:  operator,
	}

	defer func() {
		// Close raced with a late producer.
		if recover() != nil {
			a.logger.Warnw("msg", "audit log closed, dropping event", "event_type", event.EventType)
		}
	}()

	select {
	case a.logChan <- event:
	default:
		if eventType == model.AuditEventGateRejected && !a.rejectLogs.Allow() {
			return
		}
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"event_type", event.EventType,
			"subject", subject)
	}
}
