package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions describes the lock and event stream backend. Zero sizing and
// timeout fields fall back to DefaultClientOptions.
type ClientOptions struct {
	Addr     string
	Username string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	// Lock calls run on the booking path, so a slow backend surfaces as
	// SLOT_BUSY instead of holding a request open.
	IOTimeout   time.Duration
	PingTimeout time.Duration
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Addr:         "127.0.0.1:6379",
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  3 * time.Second,
		IOTimeout:    2 * time.Second,
		PingTimeout:  5 * time.Second,
	}
}

func (o ClientOptions) redisOptions() *redis.Options {
	def := DefaultClientOptions()
	return &redis.Options{
		Addr:         orDefault(o.Addr, def.Addr),
		Username:     o.Username,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     orDefault(o.PoolSize, def.PoolSize),
		MinIdleConns: orDefault(o.MinIdleConns, def.MinIdleConns),
		DialTimeout:  orDefault(o.DialTimeout, def.DialTimeout),
		ReadTimeout:  orDefault(o.IOTimeout, def.IOTimeout),
		WriteTimeout: orDefault(o.IOTimeout, def.IOTimeout),
	}
}

// NewRedisClient connects and pings once, bounded by ctx and PingTimeout.
func NewRedisClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	ro := opts.redisOptions()
	rdb := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, orDefault(opts.PingTimeout, DefaultClientOptions().PingTimeout))
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", ro.Addr, err)
	}
	return rdb, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
