package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), ClientOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	assert.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
}

func TestNewRedisClientAuth(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireUserAuth("booking", "secret")

	_, err := NewRedisClient(context.Background(), ClientOptions{Addr: mr.Addr(), Username: "booking", Password: "wrong"})
	require.Error(t, err)

	rdb, err := NewRedisClient(context.Background(), ClientOptions{Addr: mr.Addr(), Username: "booking", Password: "secret"})
	require.NoError(t, err)
	_ = rdb.Close()
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), ClientOptions{Addr: addr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis "+addr)
}

func TestClientOptionsDefaults(t *testing.T) {
	ro := ClientOptions{Addr: "cache:6379", IOTimeout: time.Second}.redisOptions()

	assert.Equal(t, "cache:6379", ro.Addr)
	assert.Equal(t, 10, ro.PoolSize)
	assert.Equal(t, 1, ro.MinIdleConns)
	assert.Equal(t, 3*time.Second, ro.DialTimeout)
	assert.Equal(t, time.Second, ro.ReadTimeout)
	assert.Equal(t, time.Second, ro.WriteTimeout)

	assert.Equal(t, "127.0.0.1:6379", ClientOptions{}.redisOptions().Addr)
}
