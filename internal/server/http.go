package server

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"time"

	"HookGuard/internal/conf"
	"HookGuard/internal/data"
	"HookGuard/internal/server/middleware"
	"HookGuard/internal/service"
	pkglog "HookGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// AdminPrefix is the path prefix guarded by the admin token.
const AdminPrefix = "/v1/breakers"

const pingTimeout = 2 * time.Second

// NewHTTPServer new an HTTP server.
func NewHTTPServer(
	c *conf.Server,
	gate *conf.Gate,
	webhooks *service.WebhookService,
	admin *service.BreakerAdminService,
	metrics *Metrics,
	d *data.Data,
	logger log.Logger,
) *http.Server {
	logHelper := pkglog.NewLogHelper(log.With(logger, "module", "server/http"))

	tenantHeader := "X-Tenant-ID"
	if gate != nil && gate.Headers != nil && gate.Headers.Tenant != "" {
		tenantHeader = gate.Headers.Tenant
	}
	var adminToken string
	if c != nil {
		adminToken = c.AdminToken
	}

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper, tenantHeader), // request id, tenant and client address on ctx
			metrics.Middleware(),
			selector.Server(middleware.AdminAuth(adminToken, logHelper)).Prefix(AdminPrefix).Build(),
		),
	}
	if c != nil && c.HTTP != nil {
		if c.HTTP.Network != "" {
			opts = append(opts, http.Network(c.HTTP.Network))
		}
		if c.HTTP.Addr != "" {
			opts = append(opts, http.Address(c.HTTP.Addr))
		}
		if c.HTTP.Timeout > 0 {
			opts = append(opts, http.Timeout(c.HTTP.Timeout))
		}
	}
	srv := http.NewServer(opts...)

	r := srv.Route("/v1")
	r.POST("/webhooks", webhooks.Receive)
	r.GET("/breakers", admin.List)
	r.GET("/breakers/{tenant}/{service}", admin.Get)
	r.POST("/breakers/reset", admin.Reset)
	if adminToken == "" {
		logHelper.Security("Admin token not configured, breaker admin endpoints reject every request")
	}

	srv.Handle("/metrics", metrics.Handler())
	srv.HandleFunc("/healthz", healthz(d))

	return srv
}

// healthz reports 503 while a configured backend does not answer its ping.
func healthz(d *data.Data) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		status, body := stdhttp.StatusOK, map[string]string{"status": "ok"}
		if d != nil {
			ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			defer cancel()
			if err := d.Ping(ctx); err != nil {
				status, body = stdhttp.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
