package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgSink appends events to the notification_events outbox table.
// A separate delivery process reads rows with delivered_at IS NULL.
type PgSink struct {
	db execer
}

func NewPgSink(db execer) *PgSink {
	if db == nil {
		panic("events: pgx pool required")
	}
	return &PgSink{db: db}
}

func (s *PgSink) Emit(ctx context.Context, ev Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notification_events (type, payload, created_at)
		VALUES ($1, $2, $3)
	`, ev.Type, []byte(ev.Payload), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("events: insert outbox: %w", err)
	}
	return nil
}
