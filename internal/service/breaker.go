package service

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"HookGuard/internal/biz"
	"HookGuard/internal/model"
	pkglog "HookGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// OperatorHeader names the operator recorded with an admin reset.
const OperatorHeader = "X-Operator"

const defaultOperator = "admin"

// BreakerView is the admin representation of one breaker record.
type BreakerView struct {
	TenantID             string             `json:"tenant_id"`
	Service              string             `json:"service"`
	State                model.CircuitState `json:"state"`
	ConsecutiveFailures  int                `json:"consecutive_failures"`
	ConsecutiveSuccesses int                `json:"consecutive_successes"`
	TotalExecutions      int64              `json:"total_executions"`
	OpenedAt             *time.Time         `json:"opened_at,omitempty"`
	LastFailureAt        *time.Time         `json:"last_failure_at,omitempty"`
	LastError            string             `json:"last_error,omitempty"`
	LastStateChange      time.Time          `json:"last_state_change"`
}

func newBreakerView(key model.BreakerKey, rec *model.BreakerRecord) BreakerView {
	v := BreakerView{
		TenantID:             key.TenantID,
		Service:              key.Service,
		State:                rec.State,
		ConsecutiveFailures:  rec.ConsecutiveFailures,
		ConsecutiveSuccesses: rec.ConsecutiveSuccesses,
		TotalExecutions:      rec.TotalExecutions,
		OpenedAt:             rec.OpenedAt,
		LastFailureAt:        rec.LastFailureAt,
		LastStateChange:      rec.LastStateChange,
	}
	if rec.LastError != nil {
		v.LastError = *rec.LastError
	}
	return v
}

// BreakerList is the reply of GET /v1/breakers.
type BreakerList struct {
	Breakers []BreakerView       `json:"breakers"`
	Settings biz.BreakerSettings `json:"settings"`
}

// BreakerAdminService exposes breaker records to operators.
type BreakerAdminService struct {
	breaker *biz.CircuitBreaker
	logger  *pkglog.LogHelper
}

// NewBreakerAdminService creates the admin service.
func NewBreakerAdminService(breaker *biz.CircuitBreaker, logger log.Logger) *BreakerAdminService {
	return &BreakerAdminService{
		breaker: breaker,
		logger:  pkglog.NewLogHelper(log.With(logger, "module", "service/breaker")),
	}
}

// List handles GET /v1/breakers. Records are sorted by tenant then service.
func (s *BreakerAdminService) List(ctx khttp.Context) error {
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		states, err := s.breaker.States(c)
		if err != nil {
			return nil, errors.ServiceUnavailable("BREAKER_STORE_UNAVAILABLE", "breaker states could not be read").WithCause(err)
		}
		out := &BreakerList{
			Breakers: make([]BreakerView, 0, len(states)),
			Settings: s.breaker.Settings(),
		}
		for key, rec := range states {
			out.Breakers = append(out.Breakers, newBreakerView(key, rec))
		}
		sort.Slice(out.Breakers, func(i, j int) bool {
			a, b := out.Breakers[i], out.Breakers[j]
			if a.TenantID != b.TenantID {
				return a.TenantID < b.TenantID
			}
			return a.Service < b.Service
		})
		return out, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, out)
}

// Get handles GET /v1/breakers/{tenant}/{service}.
func (s *BreakerAdminService) Get(ctx khttp.Context) error {
	vars := ctx.Vars()
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		key, err := breakerKey(vars.Get("tenant"), vars.Get("service"))
		if err != nil {
			return nil, err
		}
		rec, err := s.breaker.State(c, key)
		if err != nil {
			return nil, errors.ServiceUnavailable("BREAKER_STORE_UNAVAILABLE", "breaker state could not be read").WithCause(err)
		}
		v := newBreakerView(key, rec)
		return &v, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, out)
}

// Reset handles POST /v1/breakers/reset?tenant=&service=.
func (s *BreakerAdminService) Reset(ctx khttp.Context) error {
	q := ctx.Query()
	operator := strings.TrimSpace(ctx.Header().Get(OperatorHeader))
	if operator == "" {
		operator = defaultOperator
	}

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		key, err := breakerKey(q.Get("tenant"), q.Get("service"))
		if err != nil {
			return nil, err
		}
		if err := s.breaker.Reset(c, key, operator); err != nil {
			return nil, errors.InternalServer("BREAKER_RESET_FAILED", "breaker could not be reset").WithCause(err)
		}
		s.logger.Admin("breaker reset", "key", key.String(), "operator", operator)
		return map[string]string{"tenant_id": key.TenantID, "service": key.Service, "state": string(model.CircuitClosed)}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, out)
}

func breakerKey(tenant, service string) (model.BreakerKey, error) {
	tenant, service = strings.TrimSpace(tenant), strings.TrimSpace(service)
	if tenant == "" || service == "" {
		return model.BreakerKey{}, errors.BadRequest("BREAKER_KEY_REQUIRED", "tenant and service are required")
	}
	if strings.Contains(service, ":") {
		return model.BreakerKey{}, errors.BadRequest("BREAKER_KEY_INVALID", "service must not contain ':'")
	}
	return model.BreakerKey{TenantID: tenant, Service: service}, nil
}
