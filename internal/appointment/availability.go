package appointment

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/appointment-waitlist-engine/internal/clock"
)

type AvailabilityQuery struct {
	ServiceID uuid.UUID
	From      string // optional, defaults to now
	To        string // optional, defaults to From + availability span
	Timezone  string // zone for bounds without an offset, defaults to UTC
}

// GetAvailability lists the non-cancelled slots of a service that intersect the
// requested window, with live occupancy, ordered by start time.
func (s *Service) GetAvailability(ctx context.Context, q AvailabilityQuery) ([]SlotView, error) {
	ctx, done := s.startOp(ctx, "availability", attribute.String("booking.service_id", q.ServiceID.String()))

	views, err := s.availability(ctx, q)
	if err != nil {
		return nil, done(err)
	}
	return views, done(nil)
}

func (s *Service) availability(ctx context.Context, q AvailabilityQuery) ([]SlotView, error) {
	window, err := clock.ParseWindow(q.From, q.To, q.Timezone, s.clock.Now(), s.cfg.AvailabilitySpan)
	if err != nil {
		return nil, wrapKind(ErrInvalidRange, "%s", strings.TrimPrefix(err.Error(), clock.ErrInvalidRange.Error()+": "))
	}

	if _, err := s.repo.GetService(ctx, q.ServiceID); err != nil {
		return nil, err
	}

	rows, err := s.repo.ListSlotOccupancy(ctx, q.ServiceID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("list slot occupancy: %w", err)
	}

	views := make([]SlotView, 0, len(rows))
	for _, row := range rows {
		if row.Slot.Status == SlotCancelled || !window.Intersects(row.Slot.StartAt, row.Slot.EndAt) {
			continue
		}
		views = append(views, buildSlotView(row))
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Slot.StartAt.Before(views[j].Slot.StartAt)
	})
	return views, nil
}

func buildSlotView(o SlotOccupancy) SlotView {
	available := max(o.Slot.Capacity-o.ActiveCount, 0)

	status := SlotAvailable
	switch {
	case o.Slot.Status == SlotCancelled:
		status = SlotCancelled
	case available == 0:
		status = SlotFull
	}

	return SlotView{
		Slot:        o.Slot,
		ActiveCount: o.ActiveCount,
		Available:   available,
		QueueLength: o.WaitingCount,
		Status:      status,
	}
}
