package bootstrap

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-waitlist-engine/internal/appointment"
	"github.com/hackgods/appointment-waitlist-engine/internal/config"
	"github.com/hackgods/appointment-waitlist-engine/internal/events"
	"github.com/hackgods/appointment-waitlist-engine/internal/metrics"
	redisclient "github.com/hackgods/appointment-waitlist-engine/internal/redis"
)

// BuildEmitter fans events out to the Postgres outbox and, when a stream is
// configured, to the Redis stream.
func BuildEmitter(pool *pgxpool.Pool, rdb *redis.Client, cfg config.Config) events.Emitter {
	var sinks events.Fanout
	if pool != nil {
		sinks = append(sinks, events.NewPgSink(pool))
	}
	if rdb != nil && cfg.EventStream != "" {
		sinks = append(sinks, events.NewRedisStreamSink(rdb, cfg.EventStream))
	}
	if len(sinks) == 0 {
		return events.Discard{}
	}
	return sinks
}

// RedisOptions maps the configured Redis endpoint onto client options.
func RedisOptions(cfg config.Config) redisclient.ClientOptions {
	opts := redisclient.DefaultClientOptions()
	opts.Addr = cfg.RedisAddr
	opts.Username = cfg.RedisUsername
	opts.Password = cfg.RedisPassword
	return opts
}

// BuildLocker returns the Redis slot locker, or a no-op locker without Redis.
func BuildLocker(rdb *redis.Client, cfg config.Config) redisclient.Locker {
	if rdb == nil {
		return redisclient.NopLocker{}
	}
	return redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait)
}

// BuildService wires the booking engine over Postgres and Redis.
func BuildService(pool *pgxpool.Pool, rdb *redis.Client, cfg config.Config, logger zerolog.Logger, m *metrics.Metrics) *appointment.Service {
	return appointment.NewService(
		appointment.NewPgRepository(pool),
		BuildLocker(rdb, cfg),
		BuildEmitter(pool, rdb, cfg),
		cfg,
		appointment.WithLogger(logger),
		appointment.WithMetrics(m),
	)
}
