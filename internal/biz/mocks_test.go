package biz

import (
	"context"

	"HookGuard/internal/model"

	"github.com/stretchr/testify/mock"
)

// MockAuditLogger is a mock implementation of AuditLogger for testing.
type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) LogGateRejection(ctx context.Context, r *model.GateRejection) {
	m.Called(ctx, r)
}

func (m *MockAuditLogger) LogCircuitTransition(ctx context.Context, c *model.StateChange) {
	m.Called(ctx, c)
}

func (m *MockAuditLogger) LogCircuitReset(ctx context.Context, key model.BreakerKey, operator string) {
	m.Called(ctx, key, operator)
}

// MockBreakerNotifier is a mock implementation of BreakerNotifier for testing.
type MockBreakerNotifier struct {
	mock.Mock
}

func (m *MockBreakerNotifier) NotifyCircuitOpened(ctx context.Context, event *model.CircuitOpenedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockBreakerNotifier) NotifyCircuitClosed(ctx context.Context, event *model.CircuitClosedEvent) error {
	return m.Called(ctx, event).Error(0)
}

// MockStateStore is a mock implementation of StateStore for testing.
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) GetState(ctx context.Context, key model.BreakerKey) (*model.BreakerRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BreakerRecord), args.Error(1)
}

func (m *MockStateStore) SetState(ctx context.Context, key model.BreakerKey, record *model.BreakerRecord) error {
	return m.Called(ctx, key, record).Error(0)
}

func (m *MockStateStore) DeleteState(ctx context.Context, key model.BreakerKey) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockStateStore) GetAllStates(ctx context.Context) (map[model.BreakerKey]*model.BreakerRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[model.BreakerKey]*model.BreakerRecord), args.Error(1)
}

// spySignature counts Verify calls and delegates to a real verifier.
type spySignature struct {
	calls    int
	delegate signatureChecker
}

func (s *spySignature) Verify(sig, ts string, body []byte) ValidationOutcome {
	s.calls++
	return s.delegate.Verify(sig, ts, body)
}
