package appointment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/appointment-waitlist-engine/internal/events"
)

type RescheduleRequest struct {
	NewSlotID uuid.UUID
	Timezone  *string
	Notes     *string
}

// Reschedule moves an appointment to another slot of the same service. The
// appointment's own row is not counted against the new slot's capacity.
func (s *Service) Reschedule(ctx context.Context, actor AuthenticatedUser, appointmentID uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	ctx, done := s.startOp(ctx, "reschedule",
		attribute.String("booking.appointment_id", appointmentID.String()),
		attribute.String("booking.slot_id", req.NewSlotID.String()),
	)

	var (
		appt    *Appointment
		oldSlot *uuid.UUID
		box     outbox
	)
	err := s.withSlotLock(ctx, req.NewSlotID, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			box = outbox{}
			var err error
			appt, oldSlot, err = s.rescheduleTx(ctx, tx, actor, appointmentID, req, &box)
			return err
		})
	})
	if err != nil {
		return nil, done(err)
	}

	s.flush(ctx, &box)
	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", req.NewSlotID.String()).
		Msg("appointment rescheduled")

	if oldSlot != nil {
		s.promoteAfter(ctx, appt.ServiceID)
	}
	return appt, done(nil)
}

func (s *Service) rescheduleTx(ctx context.Context, tx Tx, actor AuthenticatedUser, id uuid.UUID, req RescheduleRequest, box *outbox) (*Appointment, *uuid.UUID, error) {
	now := s.clock.Now()

	appt, err := s.loadForChange(ctx, tx, actor, id)
	if err != nil {
		return nil, nil, err
	}

	newSlot, err := lockSlots(ctx, tx, appt.SlotID, req.NewSlotID)
	if err != nil {
		return nil, nil, err
	}
	if newSlot.ServiceID != appt.ServiceID {
		return nil, nil, wrapKind(ErrServiceMismatch, "slot %s belongs to service %s", newSlot.ID, newSlot.ServiceID)
	}
	if appt.SlotID != nil && *appt.SlotID == newSlot.ID {
		return nil, nil, ErrNoOp
	}
	if err := checkBookable(newSlot, now); err != nil {
		return nil, nil, err
	}

	active, err := tx.CountActiveAppointments(ctx, newSlot.ID, &appt.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("count active appointments: %w", err)
	}
	if active >= newSlot.Capacity {
		return nil, nil, wrapKind(ErrSlotFull, "slot %s has %d of %d seats taken", newSlot.ID, active, newSlot.Capacity)
	}

	oldSlot := appt.SlotID
	appt.SlotID = &newSlot.ID
	appt.ScheduledAt = newSlot.StartAt
	if req.Timezone != nil && *req.Timezone != "" {
		appt.Timezone = *req.Timezone
	}
	if req.Notes != nil {
		appt.Notes = req.Notes
	}
	appt.UpdatedAt = now
	if err := tx.UpdateAppointment(ctx, appt); err != nil {
		return nil, nil, fmt.Errorf("update appointment: %w", err)
	}

	current := appt.Status
	if err := tx.InsertStatusHistory(ctx, &StatusHistory{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		Event:         EventRescheduled,
		FromStatus:    &current,
		ToStatus:      current,
		ActorID:       actor.ID,
		Notes:         req.Notes,
		CreatedAt:     now,
	}); err != nil {
		return nil, nil, fmt.Errorf("insert status history: %w", err)
	}

	if oldSlot != nil {
		if _, err := recomputeOccupancy(ctx, tx, *oldSlot); err != nil {
			return nil, nil, err
		}
	}
	if _, err := recomputeOccupancy(ctx, tx, newSlot.ID); err != nil {
		return nil, nil, err
	}

	payload := newAppointmentPayload(appt)
	payload.PreviousSlotID = idString(oldSlot)
	box.add(events.TypeAppointmentRescheduled, payload)
	return appt, oldSlot, nil
}

// Cancel releases the appointment's seat. The head of the service's waitlist
// is notified afterwards.
func (s *Service) Cancel(ctx context.Context, actor AuthenticatedUser, appointmentID uuid.UUID, reason *string) (*Appointment, error) {
	ctx, done := s.startOp(ctx, "cancel", attribute.String("booking.appointment_id", appointmentID.String()))

	var (
		appt *Appointment
		box  outbox
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		box = outbox{}
		var err error
		appt, err = s.cancelTx(ctx, tx, actor, appointmentID, reason, &box)
		return err
	})
	if err != nil {
		return nil, done(err)
	}

	s.flush(ctx, &box)
	s.logger.Info().Str("appointment_id", appt.ID.String()).Msg("appointment cancelled")

	s.promoteAfter(ctx, appt.ServiceID)
	return appt, done(nil)
}

func (s *Service) cancelTx(ctx context.Context, tx Tx, actor AuthenticatedUser, id uuid.UUID, reason *string, box *outbox) (*Appointment, error) {
	now := s.clock.Now()

	appt, err := s.loadForChange(ctx, tx, actor, id)
	if err != nil {
		return nil, err
	}
	if appt.SlotID != nil {
		if _, err := tx.GetSlotForUpdate(ctx, *appt.SlotID); err != nil {
			return nil, err
		}
	}

	previous := appt.Status
	appt.Status = StatusCancelled
	if reason != nil {
		appt.Notes = reason
	}
	appt.UpdatedAt = now
	if err := tx.UpdateAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	if err := tx.InsertStatusHistory(ctx, &StatusHistory{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		Event:         EventCancelled,
		FromStatus:    &previous,
		ToStatus:      StatusCancelled,
		ActorID:       actor.ID,
		Notes:         reason,
		CreatedAt:     now,
	}); err != nil {
		return nil, fmt.Errorf("insert status history: %w", err)
	}

	if appt.SlotID != nil {
		if _, err := recomputeOccupancy(ctx, tx, *appt.SlotID); err != nil {
			return nil, err
		}
	}

	payload := newAppointmentPayload(appt)
	payload.Reason = reason
	box.add(events.TypeAppointmentCancelled, payload)
	return appt, nil
}

// loadForChange locks the appointment and checks the actor may modify it.
func (s *Service) loadForChange(ctx context.Context, tx Tx, actor AuthenticatedUser, id uuid.UUID) (*Appointment, error) {
	appt, err := tx.GetAppointmentForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canActOn(appt.UserID) {
		return nil, ErrForbidden
	}
	switch appt.Status {
	case StatusCancelled, StatusCompleted:
		return nil, wrapKind(ErrInvalidState, "appointment %s is %s", appt.ID, appt.Status)
	}
	return appt, nil
}

// lockSlots locks the current and target slot rows in ascending id order and
// returns the target.
func lockSlots(ctx context.Context, tx Tx, current *uuid.UUID, target uuid.UUID) (*AppointmentSlot, error) {
	if current == nil || *current == target {
		return tx.GetSlotForUpdate(ctx, target)
	}

	first, second := *current, target
	if bytes.Compare(second[:], first[:]) < 0 {
		first, second = second, first
	}

	var newSlot *AppointmentSlot
	for _, id := range []uuid.UUID{first, second} {
		slot, err := tx.GetSlotForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if id == target {
			newSlot = slot
		}
	}
	return newSlot, nil
}
