package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/appointment-waitlist-engine/internal/clock"
	"github.com/hackgods/appointment-waitlist-engine/internal/config"
	"github.com/hackgods/appointment-waitlist-engine/internal/events"
	"github.com/hackgods/appointment-waitlist-engine/internal/metrics"
	redisclient "github.com/hackgods/appointment-waitlist-engine/internal/redis"
)

const (
	DefaultHoldDuration     = 30 * time.Minute
	DefaultAvailabilitySpan = 14 * 24 * time.Hour
)

var tracer = otel.Tracer("booking.internal.appointment")

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	emitter events.Emitter
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger
	cfg     config.Config
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repo Repository, locker redisclient.Locker, emitter events.Emitter, cfg config.Config, opts ...Option) *Service {
	if repo == nil {
		panic("appointment: repository required")
	}
	if locker == nil {
		locker = redisclient.NopLocker{}
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = DefaultHoldDuration
	}
	if cfg.AvailabilitySpan <= 0 {
		cfg.AvailabilitySpan = DefaultAvailabilitySpan
	}

	s := &Service{
		repo:    repo,
		locker:  locker,
		emitter: emitter,
		clock:   clock.System(),
		logger:  zerolog.Nop(),
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// startOp opens a span for an engine operation. The returned func records the
// outcome and hands err back unchanged.
func (s *Service) startOp(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error) error) {
	ctx, span := tracer.Start(ctx, "appointment."+name)
	span.SetAttributes(attrs...)
	return ctx, func(err error) error {
		s.metrics.ObserveOperation(name, outcome(err))
		if err != nil {
			span.RecordError(err)
			if KindOf(err) == KindInternal {
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.End()
		return err
	}
}

// withSlotLock runs fn under the distributed slot lock.
func (s *Service) withSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithSlotLock(ctx, slotID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrSlotBusy
	}
	return err
}

// outbox buffers events raised inside a transaction until it commits.
type outbox struct {
	pending []pendingEvent
}

type pendingEvent struct {
	eventType string
	payload   any
}

func (o *outbox) add(eventType string, payload any) {
	o.pending = append(o.pending, pendingEvent{eventType: eventType, payload: payload})
}

func (s *Service) flush(ctx context.Context, o *outbox) {
	now := s.clock.Now()
	for _, p := range o.pending {
		ev, err := events.New(p.eventType, p.payload, now)
		if err != nil {
			s.logger.Error().Err(err).Str("event_type", p.eventType).Msg("failed to build event")
			continue
		}
		if err := s.emitter.Emit(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("event_type", p.eventType).Msg("failed to emit event")
		}
	}
	o.pending = nil
}

// promoteAfter runs PromoteNext once a seat was released. The triggering
// operation already committed, so failures are only logged.
func (s *Service) promoteAfter(ctx context.Context, serviceID uuid.UUID) {
	ticket, err := s.PromoteNext(ctx, serviceID)
	if err != nil {
		s.logger.Error().Err(err).Str("service_id", serviceID.String()).Msg("queue promotion failed")
		return
	}
	if ticket != nil {
		s.logger.Info().
			Str("service_id", serviceID.String()).
			Str("ticket_id", ticket.ID.String()).
			Msg("queue ticket notified")
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
