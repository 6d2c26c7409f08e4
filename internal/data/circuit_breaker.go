package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"HookGuard/internal/model"
	pkgerrors "HookGuard/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// ErrStateNotFound is returned by a StateBackend for a key it has never stored.
var ErrStateNotFound = errors.New("breaker state not found")

// StateBackend is the durable tier under CachedStateStore.
type StateBackend interface {
	// Load returns ErrStateNotFound when key has no record.
	Load(ctx context.Context, key model.BreakerKey) (*model.BreakerRecord, error)
	Save(ctx context.Context, key model.BreakerKey, record *model.BreakerRecord) error
	Delete(ctx context.Context, key model.BreakerKey) error
	LoadAll(ctx context.Context) (map[model.BreakerKey]*model.BreakerRecord, error)
}

// CircuitBreakerState is the GORM model for circuit_breaker_states table.
// One row per (tenant_id, service_name).
type CircuitBreakerState struct {
	ID                   int64      `gorm:"primaryKey;column:id"`
	TenantID             string     `gorm:"column:tenant_id;type:varchar(128);not null;uniqueIndex:uk_tenant_service,priority:1"`
	ServiceName          string     `gorm:"column:service_name;type:varchar(128);not null;uniqueIndex:uk_tenant_service,priority:2"`
	State                string     `gorm:"column:state;type:varchar(16);not null;default:CLOSED"`
	ConsecutiveFailures  int        `gorm:"column:consecutive_failures;not null;default:0"`
	ConsecutiveSuccesses int        `gorm:"column:consecutive_successes;not null;default:0"`
	TotalExecutions      int64      `gorm:"column:total_executions;not null;default:0"`
	LastFailureAt        *time.Time `gorm:"column:last_failure_at"`
	LastError            *string    `gorm:"column:last_error;type:text"`
	OpenedAt             *time.Time `gorm:"column:opened_at"`
	LastStateChange      time.Time  `gorm:"column:last_state_change;not null"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (CircuitBreakerState) TableName() string {
	return "circuit_breaker_states"
}

func (s *CircuitBreakerState) toRecord() *model.BreakerRecord {
	return &model.BreakerRecord{
		State:                model.CircuitState(s.State),
		ConsecutiveFailures:  s.ConsecutiveFailures,
		ConsecutiveSuccesses: s.ConsecutiveSuccesses,
		OpenedAt:             s.OpenedAt,
		LastFailureAt:        s.LastFailureAt,
		LastError:            s.LastError,
		TotalExecutions:      s.TotalExecutions,
		LastStateChange:      s.LastStateChange,
	}
}

// GormStateBackend implements StateBackend on MySQL through GORM.
type GormStateBackend struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewGormStateBackend creates a MySQL-backed breaker state backend.
func NewGormStateBackend(db *gorm.DB, logger log.Logger) *GormStateBackend {
	return &GormStateBackend{
		db:     db,
		logger: log.NewHelper(log.With(logger, "module", "data/circuit_breaker")),
	}
}

// Migrate creates or updates the circuit_breaker_states table.
func (r *GormStateBackend) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&CircuitBreakerState{}); err != nil {
		return fmt.Errorf("failed to migrate circuit_breaker_states: %w", err)
	}
	return nil
}

// Load implements StateBackend.
func (r *GormStateBackend) Load(ctx context.Context, key model.BreakerKey) (*model.BreakerRecord, error) {
	var row CircuitBreakerState
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND service_name = ?", key.TenantID, key.Service).
		First(&row).Error
	if err != nil {
		if pkgerrors.IsNotFoundError(err) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to load breaker state %s: %w", key, pkgerrors.ClassifyDBError(err))
	}
	return row.toRecord(), nil
}

// Save implements StateBackend. It updates the existing row and falls back to an
// insert when no row exists yet. An insert losing a race against another instance
// (duplicate key) is retried as an update.
func (r *GormStateBackend) Save(ctx context.Context, key model.BreakerKey, record *model.BreakerRecord) error {
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		updated, err := r.update(ctx, key, record)
		if err != nil {
			if pkgerrors.IsRetryableError(err) {
				r.logger.Debugw("msg", "breaker state update conflict, retrying", "key", key.String(), "retry", i+1)
				time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("failed to update breaker state %s: %w", key, pkgerrors.ClassifyDBError(err))
		}
		if updated {
			return nil
		}

		// Record not found on first write: insert.
		err = r.db.WithContext(ctx).Create(&CircuitBreakerState{
			TenantID:             key.TenantID,
			ServiceName:          key.Service,
			State:                string(record.State),
			ConsecutiveFailures:  record.ConsecutiveFailures,
			ConsecutiveSuccesses: record.ConsecutiveSuccesses,
			TotalExecutions:      record.TotalExecutions,
			LastFailureAt:        record.LastFailureAt,
			LastError:            record.LastError,
			OpenedAt:             record.OpenedAt,
			LastStateChange:      record.LastStateChange,
		}).Error
		if err == nil {
			return nil
		}
		if pkgerrors.IsDuplicateKeyError(err) {
			// Either another instance inserted first or the row exists with identical
			// values (MySQL reports 0 affected rows for a no-op update).
			r.logger.Debugw("msg", "breaker state row already exists", "key", key.String())
			if i > 0 {
				return nil
			}
			continue
		}
		return fmt.Errorf("failed to insert breaker state %s: %w", key, pkgerrors.ClassifyDBError(err))
	}

	return fmt.Errorf("breaker state save failed after %d retries: %s", maxRetries, key)
}

func (r *GormStateBackend) update(ctx context.Context, key model.BreakerKey, record *model.BreakerRecord) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&CircuitBreakerState{}).
		Where("tenant_id = ? AND service_name = ?", key.TenantID, key.Service).
		Updates(map[string]interface{}{
			"state":                 string(record.State),
			"consecutive_failures":  record.ConsecutiveFailures,
			"consecutive_successes": record.ConsecutiveSuccesses,
			"total_executions":      record.TotalExecutions,
			"last_failure_at":       record.LastFailureAt,
			"last_error":            record.LastError,
			"opened_at":             record.OpenedAt,
			"last_state_change":     record.LastStateChange,
			"updated_at":            time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Delete implements StateBackend.
func (r *GormStateBackend) Delete(ctx context.Context, key model.BreakerKey) error {
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND service_name = ?", key.TenantID, key.Service).
		Delete(&CircuitBreakerState{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete breaker state %s: %w", key, pkgerrors.ClassifyDBError(err))
	}
	return nil
}

// LoadAll implements StateBackend.
func (r *GormStateBackend) LoadAll(ctx context.Context) (map[model.BreakerKey]*model.BreakerRecord, error) {
	var rows []CircuitBreakerState
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list breaker states: %w", pkgerrors.ClassifyDBError(err))
	}
	out := make(map[model.BreakerKey]*model.BreakerRecord, len(rows))
	for i := range rows {
		key := model.BreakerKey{TenantID: rows[i].TenantID, Service: rows[i].ServiceName}
		out[key] = rows[i].toRecord()
	}
	return out, nil
}
