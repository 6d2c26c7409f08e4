package biz

import (
	"context"
	"errors"
	"testing"

	"HookGuard/internal/data"
	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockForwarder struct {
	mock.Mock
}

func (m *MockForwarder) Forward(ctx context.Context, event *model.WebhookEvent) (any, error) {
	args := m.Called(ctx, event)
	return args.Get(0), args.Error(1)
}

func newTestDispatcher(t *testing.T, fwd EventForwarder) (*Dispatcher, *data.MemoryStateStore) {
	t.Helper()
	catalog, err := NewFallbackCatalog(nil)
	require.NoError(t, err)
	store := data.NewMemoryStateStore()
	breaker := NewCircuitBreaker(smallBreaker(), store, catalog, nil, nil, log.DefaultLogger)
	return NewDispatcher(breaker, fwd, log.DefaultLogger), store
}

func TestDispatcher_RegisteredHandler(t *testing.T) {
	fwd := new(MockForwarder)
	d, _ := newTestDispatcher(t, fwd)
	d.Register(model.EventCallEnded, EventHandlerFunc(func(_ context.Context, e *model.WebhookEvent) (any, error) {
		return "handled " + e.ID, nil
	}))

	r := d.Dispatch(context.Background(), &model.WebhookEvent{ID: "evt_1", TenantID: "acme", Kind: model.EventCallEnded}, LanguageEnglish)

	assert.True(t, r.Success())
	assert.Equal(t, "handled evt_1", r.Value)
	fwd.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything)
}

func TestDispatcher_UnhandledKindGoesToForwarder(t *testing.T) {
	fwd := new(MockForwarder)
	fwd.On("Forward", mock.Anything, mock.MatchedBy(func(e *model.WebhookEvent) bool {
		return e.ID == "evt_2"
	})).Return(map[string]int{"status": 202}, nil)
	d, _ := newTestDispatcher(t, fwd)

	r := d.Dispatch(context.Background(), &model.WebhookEvent{ID: "evt_2", TenantID: "acme", Kind: model.EventHang}, LanguageEnglish)

	assert.True(t, r.Success())
	fwd.AssertExpectations(t)
}

func TestDispatcher_NoHandlerNoForwarder(t *testing.T) {
	d, store := newTestDispatcher(t, nil)

	r := d.Dispatch(context.Background(), &model.WebhookEvent{ID: "evt_3", Kind: model.EventHang}, LanguageEnglish)

	assert.True(t, r.Success())
	assert.False(t, r.UsedFallback)
	all, err := store.GetAllStates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDispatcher_FailuresTripTenantCircuit(t *testing.T) {
	d, store := newTestDispatcher(t, nil)
	d.Register(model.EventFunctionCalled, EventHandlerFunc(func(context.Context, *model.WebhookEvent) (any, error) {
		return nil, errors.New("tool backend 502")
	}))
	ctx := context.Background()
	event := &model.WebhookEvent{ID: "evt_4", TenantID: "acme", Kind: model.EventFunctionCalled}

	for i := 0; i < 3; i++ {
		r := d.Dispatch(ctx, event, LanguageFrench)
		require.NotNil(t, r.Fallback)
		assert.Equal(t, LanguageFrench, r.Fallback.Language)
	}

	r := d.Dispatch(ctx, event, LanguageFrench)
	assert.Equal(t, OutcomeCircuitOpen, r.Outcome)

	rec, err := store.GetState(ctx, model.BreakerKey{TenantID: "acme", Service: DispatchService})
	require.NoError(t, err)
	assert.Equal(t, model.CircuitOpen, rec.State)

	// other tenants keep flowing
	d.Register(model.EventCallStarted, EventHandlerFunc(func(context.Context, *model.WebhookEvent) (any, error) {
		return "ok", nil
	}))
	other := d.Dispatch(ctx, &model.WebhookEvent{ID: "evt_5", TenantID: "globex", Kind: model.EventCallStarted}, LanguageEnglish)
	assert.True(t, other.Success())
}

func TestDispatcher_DefaultTenant(t *testing.T) {
	d, store := newTestDispatcher(t, nil)
	d.Register(model.EventStatusUpdated, EventHandlerFunc(func(context.Context, *model.WebhookEvent) (any, error) {
		return nil, nil
	}))

	d.Dispatch(context.Background(), &model.WebhookEvent{ID: "evt_6", Kind: model.EventStatusUpdated}, LanguageEnglish)

	all, err := store.GetAllStates(context.Background())
	require.NoError(t, err)
	assert.Contains(t, all, model.BreakerKey{TenantID: DefaultTenant, Service: DispatchService})
}
