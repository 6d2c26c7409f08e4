package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type contextKey string

const requestContextKey contextKey = "hookguard_request_context"

// unknownRequestID is reported for contexts that never went through the logging middleware.
const unknownRequestID = "unknown"

// RequestContext carries per-request tracing fields through a webhook's lifetime.
type RequestContext struct {
	RequestID string // 10 char base36 id, e.g. mgrn0zfqda
	TenantID  string
	ClientIP  string
	StartTime time.Time

	mu       sync.Mutex
	metadata map[string]interface{}
}

var (
	randSource  = rand.NewSource(time.Now().UnixNano())
	randMutex   sync.Mutex
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID returns a 10 character lowercase base36 id.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext attaches tracing fields to ctx. Called once per request by the
// logging middleware.
func WithRequestContext(ctx context.Context, requestID, tenantID, clientIP string) context.Context {
	reqCtx := &RequestContext{
		RequestID: requestID,
		TenantID:  tenantID,
		ClientIP:  clientIP,
		StartTime: time.Now(),
		metadata:  make(map[string]interface{}),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext returns the tracing fields of ctx, or an "unknown" placeholder.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{
		RequestID: unknownRequestID,
		metadata:  make(map[string]interface{}),
	}
}

// GetRequestID returns the request id of ctx.
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// LookupRequestID returns the request id of ctx and whether one was attached.
func LookupRequestID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext)
	if !ok || reqCtx.RequestID == "" {
		return "", false
	}
	return reqCtx.RequestID, true
}

// SetMetadata records an extra tracing field on the request of ctx.
func SetMetadata(ctx context.Context, key string, value interface{}) {
	reqCtx := GetRequestContext(ctx)
	reqCtx.mu.Lock()
	defer reqCtx.mu.Unlock()
	reqCtx.metadata[key] = value
}

// GetMetadata returns a field stored with SetMetadata.
func GetMetadata(ctx context.Context, key string) (interface{}, bool) {
	reqCtx := GetRequestContext(ctx)
	reqCtx.mu.Lock()
	defer reqCtx.mu.Unlock()
	value, ok := reqCtx.metadata[key]
	return value, ok
}

// GetElapsedTime returns the milliseconds since the request started.
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
