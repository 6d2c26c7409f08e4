package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	pkglog "HookGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// AdminTokenHeader is accepted in place of an Authorization bearer token.
const AdminTokenHeader = "X-Admin-Token"

// Admin auth error reasons.
const (
	ReasonAdminDisabled     = "ADMIN_DISABLED"
	ReasonAdminUnauthorized = "ADMIN_UNAUTHORIZED"
)

// AdminAuth returns a middleware that requires the admin token on every request.
// An empty token rejects every request.
func AdminAuth(token string, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if token == "" {
				return nil, errors.Forbidden(ReasonAdminDisabled, "admin endpoints are disabled")
			}

			var presented, operation string
			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					presented = bearerToken(ht.Request().Header)
				}
			}

			if !secureCompare(presented, token) {
				logger.Security("Admin request rejected",
					"operation", operation,
					"token_masked", maskToken(presented),
					"request_id", pkglog.GetRequestID(ctx),
				)
				return nil, errors.Unauthorized(ReasonAdminUnauthorized, "admin token required")
			}
			return handler(ctx, req)
		}
	}
}

// bearerToken reads "Authorization: Bearer {token}" and falls back to X-Admin-Token.
func bearerToken(h interface{ Get(string) string }) string {
	if auth := h.Get("Authorization"); auth != "" {
		if t, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	return strings.TrimSpace(h.Get(AdminTokenHeader))
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// maskToken keeps the first 4 characters.
// Example: "adm_1234567890" -> "adm_***"
func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "***"
}
