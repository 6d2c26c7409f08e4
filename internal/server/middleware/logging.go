// Package middleware provides HTTP middleware for request logging and admin authentication.
package middleware

import (
	"context"
	"net"
	"strings"
	"time"

	pkglog "HookGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the request id in and out of the service.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 64

// Client errors are sampled so a rejected flood cannot flood the log pipeline.
const (
	clientErrorLogRate  = rate.Limit(20)
	clientErrorLogBurst = 50
)

// Logging returns a middleware that attaches a request context (id, tenant, client
// address) to ctx and logs every request with its status and duration.
//
// Example output:
//
//	🟢 POST /v1/webhooks - 200 (12ms) | RequestID: mgrn0zfqda
//	🐌 [mgrn0zfqda] Slow request detected | POST /v1/webhooks | 1380ms
func Logging(logger *pkglog.LogHelper, tenantHeader string) middleware.Middleware {
	limiter := rate.NewLimiter(clientErrorLogRate, clientErrorLogBurst)

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method       string
				path         string
				clientIP     string
				forwardedFor string
				userAgent    string
				requestID    string
				tenantID     string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}

					clientIP = remoteHost(httpReq.RemoteAddr)
					forwardedFor = httpReq.Header.Get("X-Forwarded-For")
					userAgent = httpReq.Header.Get("User-Agent")
					if tenantHeader != "" {
						tenantID = strings.TrimSpace(httpReq.Header.Get(tenantHeader))
					}
					requestID = incomingRequestID(httpReq.Header.Get(RequestIDHeader))
					ht.ReplyHeader().Set(RequestIDHeader, requestID)
				}
			}
			if requestID == "" {
				requestID = pkglog.GenerateRequestID()
			}

			ctx = pkglog.WithRequestContext(ctx, requestID, tenantID, clientIP)

			reply, err := handler(ctx, req)

			duration := time.Since(startTime).Milliseconds()
			status := extractHTTPStatus(err)

			if status >= 400 && status < 500 && !limiter.Allow() {
				return reply, err
			}
			kvs := []interface{}{"user_agent", userAgent}
			if forwardedFor != "" {
				kvs = append(kvs, "forwarded_for", forwardedFor)
			}
			if err != nil {
				kvs = append(kvs, "reason", errors.Reason(err))
			}
			logger.RequestWithContext(ctx, method, path, status, duration, kvs...)

			return reply, err
		}
	}
}

// incomingRequestID keeps a caller supplied id when it is short and printable.
func incomingRequestID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxRequestIDLen {
		return pkglog.GenerateRequestID()
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return pkglog.GenerateRequestID()
		}
	}
	return id
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// extractHTTPStatus maps a handler error to the status the error encoder will write.
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return int(errors.Code(err))
}
