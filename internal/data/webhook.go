package data

import (
	"context"

	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// LogNotifier implements biz.BreakerNotifier by writing circuit events to the log.
// Alert routing (pager, chat) is expected to follow these log lines.
type LogNotifier struct {
	logger *log.Helper
}

// NewLogNotifier creates a new log-only breaker notifier
func NewLogNotifier(logger log.Logger) *LogNotifier {
	return &LogNotifier{
		logger: log.NewHelper(log.With(logger, "module", "data/notifier")),
	}
}

// NotifyCircuitOpened implements biz.BreakerNotifier.
func (s *LogNotifier) NotifyCircuitOpened(_ context.Context, event *model.CircuitOpenedEvent) error {
	s.logger.Warnw("msg", "circuit opened",
		"tenant_id", event.Key.TenantID,
		"service", event.Key.Service,
		"consecutive_failures", event.ConsecutiveFailures,
		"last_error", event.LastError,
		"opened_at", event.OpenedAt)
	return nil
}

// NotifyCircuitClosed implements biz.BreakerNotifier.
func (s *LogNotifier) NotifyCircuitClosed(_ context.Context, event *model.CircuitClosedEvent) error {
	s.logger.Infow("msg", "circuit recovered",
		"tenant_id", event.Key.TenantID,
		"service", event.Key.Service,
		"probe_count", event.ProbeCount,
		"recover_time", event.RecoverTime)
	return nil
}
