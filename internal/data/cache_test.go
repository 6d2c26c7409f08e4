package data

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRecord is a test struct for serialization
type testRecord struct {
	Tenant string `json:"tenant"`
	Count  int    `json:"count"`
	Open   bool   `json:"open"`
}

func setupTestCache(t *testing.T) (CacheClient, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCacheClient(rdb), mr
}

func TestCacheGet_Success(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	rec := testRecord{Tenant: "tenant-a", Count: 3, Open: true}
	key := BuildCacheKey(CacheKeyBreaker, "tenant-a:payments")
	require.NoError(t, cache.Set(ctx, key, rec, TTLBreaker))

	var got testRecord
	require.NoError(t, cache.Get(ctx, key, &got))
	assert.Equal(t, rec, got)
}

func TestCacheGet_KeyNotFound(t *testing.T) {
	cache, _ := setupTestCache(t)

	var got testRecord
	err := cache.Get(context.Background(), "nonexistent:key", &got)
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestCacheGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestCache(t)

	key := "test:invalid"
	_ = mr.Set(key, "invalid json {{{")

	var got testRecord
	err := cache.Get(context.Background(), key, &got)
	assert.ErrorContains(t, err, "unmarshal")
}

func TestCacheSet_WithTTL(t *testing.T) {
	cache, mr := setupTestCache(t)

	key := BuildCacheKey(CacheKeyBreaker, "t:s")
	require.NoError(t, cache.Set(context.Background(), key, testRecord{Tenant: "t"}, time.Second))

	ttl := mr.TTL(key)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Second)
}

func TestCacheDelete(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	key := BuildCacheKey(CacheKeyBreaker, "t:s")
	require.NoError(t, cache.Set(ctx, key, testRecord{}, TTLBreaker))
	assert.True(t, mr.Exists(key))

	require.NoError(t, cache.Delete(ctx, key))
	assert.False(t, mr.Exists(key))

	// deleting again is not an error
	assert.NoError(t, cache.Delete(ctx, key))
}

func TestCacheKeys(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	for _, k := range []string{"t1:a", "t1:b", "t2:a"} {
		require.NoError(t, cache.Set(ctx, BuildCacheKey(CacheKeyBreaker, k), testRecord{}, TTLBreaker))
	}
	_ = mr.Set("other:key", "x")

	keys, err := cache.Keys(ctx, CacheKeyBreaker+":*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{
		"hookguard:breaker:t1:a",
		"hookguard:breaker:t1:b",
		"hookguard:breaker:t2:a",
	}, keys)
}

func TestCache_NilClient(t *testing.T) {
	cache := NewCacheClient(nil)
	ctx := context.Background()

	assert.Error(t, cache.Get(ctx, "k", &testRecord{}))
	assert.Error(t, cache.Set(ctx, "k", testRecord{}, time.Second))
	assert.Error(t, cache.Delete(ctx, "k"))
	_, err := cache.Keys(ctx, "*")
	assert.Error(t, err)
}

func TestBuildCacheKey(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		parts    []string
		expected string
	}{
		{name: "breaker", prefix: CacheKeyBreaker, parts: []string{"tenant-a:payments"}, expected: "hookguard:breaker:tenant-a:payments"},
		{name: "window", prefix: CacheKeyWindow, parts: []string{"ip:10.0.0.1"}, expected: "hookguard:window:ip:10.0.0.1"},
		{name: "multiple parts", prefix: CacheKeyWindow, parts: []string{"tenant", "acme"}, expected: "hookguard:window:tenant:acme"},
		{name: "no parts", prefix: CacheKeyBreaker, expected: "hookguard:breaker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildCacheKey(tt.prefix, tt.parts...))
		})
	}
}
