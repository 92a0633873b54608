package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/appointment-waitlist-engine/internal/events"
)

type BookRequest struct {
	ServiceID     uuid.UUID
	SlotID        uuid.UUID
	QueueTicketID *uuid.UUID
	Locale        *string
	Timezone      *string
	Notes         *string
}

// Book reserves a seat on a slot for the actor, optionally claiming one of
// their queue tickets. The capacity check and the insert share one transaction
// with the slot row locked.
func (s *Service) Book(ctx context.Context, actor AuthenticatedUser, req BookRequest) (*Appointment, error) {
	ctx, done := s.startOp(ctx, "book",
		attribute.String("booking.service_id", req.ServiceID.String()),
		attribute.String("booking.slot_id", req.SlotID.String()),
	)

	var (
		appt *Appointment
		box  outbox
	)
	err := s.withSlotLock(ctx, req.SlotID, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			box = outbox{}
			var err error
			appt, err = s.bookTx(ctx, tx, actor, req, &box)
			return err
		})
	})
	if err != nil {
		return nil, done(err)
	}

	s.flush(ctx, &box)
	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", req.SlotID.String()).
		Str("user_id", appt.UserID.String()).
		Msg("appointment booked")
	return appt, done(nil)
}

func (s *Service) bookTx(ctx context.Context, tx Tx, actor AuthenticatedUser, req BookRequest, box *outbox) (*Appointment, error) {
	now := s.clock.Now()

	slot, err := tx.GetSlotForUpdate(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	if slot.ServiceID != req.ServiceID {
		return nil, wrapKind(ErrServiceMismatch, "slot %s belongs to service %s", slot.ID, slot.ServiceID)
	}
	if err := checkBookable(slot, now); err != nil {
		return nil, err
	}

	active, err := tx.CountActiveAppointments(ctx, slot.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("count active appointments: %w", err)
	}
	if active >= slot.Capacity {
		return nil, wrapKind(ErrSlotFull, "slot %s has %d of %d seats taken", slot.ID, active, slot.Capacity)
	}

	ownerID := actor.ID
	var claimed *QueueTicket
	if req.QueueTicketID != nil {
		claimed, err = s.claimTicket(ctx, tx, actor, *req.QueueTicketID, slot, now)
		if err != nil {
			return nil, err
		}
		ownerID = claimed.UserID
	}

	// The actor's locale only describes the owner when they book for themselves.
	locale := firstNonEmpty(deref(req.Locale), "en")
	if ownerID == actor.ID {
		locale = firstNonEmpty(deref(req.Locale), actor.Locale, "en")
	}

	appt := &Appointment{
		ID:            uuid.New(),
		UserID:        ownerID,
		ServiceID:     slot.ServiceID,
		SlotID:        &slot.ID,
		QueueTicketID: req.QueueTicketID,
		Status:        StatusScheduled,
		ScheduledAt:   slot.StartAt,
		Timezone:      firstNonEmpty(deref(req.Timezone), slot.Timezone, "UTC"),
		Locale:        locale,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.InsertStatusHistory(ctx, &StatusHistory{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		Event:         EventBooked,
		ToStatus:      StatusScheduled,
		ActorID:       actor.ID,
		Notes:         req.Notes,
		CreatedAt:     now,
	}); err != nil {
		return nil, fmt.Errorf("insert status history: %w", err)
	}

	if _, err := recomputeOccupancy(ctx, tx, slot.ID); err != nil {
		return nil, err
	}

	box.add(events.TypeAppointmentBooked, newAppointmentPayload(appt))
	if claimed != nil {
		box.add(events.TypeQueueTicketUpdated, newTicketPayload(claimed))
	}
	return appt, nil
}

// claimTicket turns an active queue ticket into COMPLETED bound to slot.
func (s *Service) claimTicket(ctx context.Context, tx Tx, actor AuthenticatedUser, ticketID uuid.UUID, slot *AppointmentSlot, now time.Time) (*QueueTicket, error) {
	if err := tx.LockServiceQueue(ctx, slot.ServiceID); err != nil {
		return nil, fmt.Errorf("lock service queue: %w", err)
	}

	ticket, err := tx.GetTicketForUpdate(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !actor.canActOn(ticket.UserID) {
		return nil, ErrForbidden
	}
	if ticket.ServiceID != slot.ServiceID {
		return nil, wrapKind(ErrServiceMismatch, "ticket %s belongs to service %s", ticket.ID, ticket.ServiceID)
	}
	if ticket.Status != TicketWaiting && ticket.Status != TicketNotified {
		return nil, wrapKind(ErrTicketNotActive, "ticket %s is %s", ticket.ID, ticket.Status)
	}

	wasWaiting := ticket.Status == TicketWaiting
	ticket.Status = TicketCompleted
	ticket.SlotID = &slot.ID
	ticket.NotifiedAt = nil
	ticket.ExpiresAt = nil
	ticket.UpdatedAt = now
	if err := tx.UpdateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("update queue ticket: %w", err)
	}

	if wasWaiting {
		if err := resequence(ctx, tx, slot.ServiceID); err != nil {
			return nil, err
		}
	}
	return ticket, nil
}

// resequence renumbers the WAITING queue of a service to 1..N in
// (position, created_at) order. Rows already in place are not written.
func resequence(ctx context.Context, tx Tx, serviceID uuid.UUID) error {
	waiting, err := tx.ListWaitingTickets(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("list waiting tickets: %w", err)
	}
	for i := range waiting {
		want := i + 1
		if waiting[i].Position == want {
			continue
		}
		if err := tx.UpdateTicketPosition(ctx, waiting[i].ID, want); err != nil {
			return fmt.Errorf("update ticket position: %w", err)
		}
	}
	return nil
}
