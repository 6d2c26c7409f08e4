package log

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := GenerateRequestID()
		assert.Len(t, id, 10)
		assert.Regexp(t, `^[0-9a-z]{10}$`, id)
		seen[id] = struct{}{}
	}
	assert.Greater(t, len(seen), 990)
}

func TestRequestContext_RoundTrip(t *testing.T) {
	ctx := WithRequestContext(context.Background(), "req0000001", "acme", "198.51.100.4")

	reqCtx := GetRequestContext(ctx)
	assert.Equal(t, "req0000001", reqCtx.RequestID)
	assert.Equal(t, "acme", reqCtx.TenantID)
	assert.Equal(t, "198.51.100.4", reqCtx.ClientIP)
	assert.False(t, reqCtx.StartTime.IsZero())
	assert.Equal(t, "req0000001", GetRequestID(ctx))
	assert.GreaterOrEqual(t, GetElapsedTime(ctx), int64(0))
}

func TestRequestContext_Missing(t *testing.T) {
	assert.Equal(t, "unknown", GetRequestID(context.Background()))
	//nolint:staticcheck // nil context is tolerated
	assert.Equal(t, "unknown", GetRequestID(nil))
	assert.Zero(t, GetElapsedTime(context.Background()))
}

func TestLookupRequestID(t *testing.T) {
	_, ok := LookupRequestID(context.Background())
	assert.False(t, ok)

	_, ok = LookupRequestID(WithRequestContext(context.Background(), "", "acme", ""))
	assert.False(t, ok)

	id, ok := LookupRequestID(WithRequestContext(context.Background(), "req0000003", "", ""))
	assert.True(t, ok)
	assert.Equal(t, "req0000003", id)
}

func TestRequestContext_Metadata(t *testing.T) {
	ctx := WithRequestContext(context.Background(), "req0000002", "", "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			SetMetadata(ctx, "gate_layer", i)
		}(i)
	}
	wg.Wait()

	v, ok := GetMetadata(ctx, "gate_layer")
	assert.True(t, ok)
	assert.IsType(t, 0, v)

	_, ok = GetMetadata(ctx, "missing")
	assert.False(t, ok)
}
