package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 100_000

// RedisStreamSink publishes events to a Redis stream for downstream notifiers.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(client *redis.Client, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: defaultStreamMaxLen}
}

// WithMaxLen caps the approximate stream length.
func (s *RedisStreamSink) WithMaxLen(n int64) *RedisStreamSink {
	if n > 0 {
		s.maxLen = n
	}
	return s
}

func (s *RedisStreamSink) Emit(ctx context.Context, ev Event) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":       ev.Type,
			"payload":    string(ev.Payload),
			"created_at": ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("events: xadd %s: %w", s.stream, err)
	}
	return nil
}
