package data

import (
	"context"
	"testing"
	"time"

	"HookGuard/internal/conf"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient_Success(t *testing.T) {
	mr := miniredis.RunT(t)

	c := &conf.Data{
		Redis: &conf.Redis{
			Addr:         mr.Addr(),
			ReadTimeout:  200 * time.Millisecond,
			WriteTimeout: 200 * time.Millisecond,
		},
	}

	client, cleanup, err := NewRedisClient(c, log.DefaultLogger)
	require.NoError(t, err)
	require.NotNil(t, client)
	defer cleanup()

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewRedisClient_Password(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	c := &conf.Data{Redis: &conf.Redis{Addr: mr.Addr(), Password: "s3cret"}}

	client, cleanup, err := NewRedisClient(c, log.DefaultLogger)
	require.NoError(t, err)
	defer cleanup()

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := &conf.Data{
		Redis: &conf.Redis{
			Addr:         addr,
			ReadTimeout:  100 * time.Millisecond,
			WriteTimeout: 100 * time.Millisecond,
		},
	}

	// Startup continues in degraded mode
	client, cleanup, err := NewRedisClient(c, log.DefaultLogger)
	require.NoError(t, err)
	require.NotNil(t, client)
	require.NotNil(t, cleanup)
	cleanup()
}

func TestNewRedisClient_NotConfigured(t *testing.T) {
	for name, c := range map[string]*conf.Data{
		"nil data":   nil,
		"nil redis":  {},
		"empty addr": {Redis: &conf.Redis{}},
	} {
		t.Run(name, func(t *testing.T) {
			client, cleanup, err := NewRedisClient(c, log.DefaultLogger)
			assert.NoError(t, err)
			assert.Nil(t, client)
			assert.NotNil(t, cleanup)
			cleanup()
		})
	}
}
