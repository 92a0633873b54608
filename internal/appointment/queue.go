package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/appointment-waitlist-engine/internal/events"
)

type CreateTicketRequest struct {
	ServiceID   uuid.UUID
	SlotID      *uuid.UUID
	DesiredFrom *time.Time
	DesiredTo   *time.Time
	Timezone    *string
	Notes       *string
}

// CreateQueueTicket puts the actor at the back of a service's waitlist.
func (s *Service) CreateQueueTicket(ctx context.Context, actor AuthenticatedUser, req CreateTicketRequest) (*QueueTicket, error) {
	ctx, done := s.startOp(ctx, "create_ticket", attribute.String("booking.service_id", req.ServiceID.String()))

	var (
		ticket *QueueTicket
		box    outbox
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		box = outbox{}
		now := s.clock.Now()

		if _, err := tx.GetService(ctx, req.ServiceID); err != nil {
			return err
		}
		if req.DesiredFrom != nil && req.DesiredTo != nil && !req.DesiredTo.After(*req.DesiredFrom) {
			return wrapKind(ErrInvalidRange, "desiredTo must be after desiredFrom")
		}
		if req.SlotID != nil {
			slot, err := tx.GetSlot(ctx, *req.SlotID)
			if err != nil {
				return err
			}
			if slot.ServiceID != req.ServiceID {
				return wrapKind(ErrServiceMismatch, "slot %s belongs to service %s", slot.ID, slot.ServiceID)
			}
			if slot.Status == SlotCancelled {
				return wrapKind(ErrSlotUnavailable, "slot %s is cancelled", slot.ID)
			}
		}

		if err := tx.LockServiceQueue(ctx, req.ServiceID); err != nil {
			return fmt.Errorf("lock service queue: %w", err)
		}
		waiting, err := tx.CountWaitingTickets(ctx, req.ServiceID, nil)
		if err != nil {
			return fmt.Errorf("count waiting tickets: %w", err)
		}

		ticket = &QueueTicket{
			ID:          uuid.New(),
			UserID:      actor.ID,
			ServiceID:   req.ServiceID,
			SlotID:      req.SlotID,
			Status:      TicketWaiting,
			Position:    waiting + 1,
			DesiredFrom: utcPtr(req.DesiredFrom),
			DesiredTo:   utcPtr(req.DesiredTo),
			Timezone:    firstNonEmpty(deref(req.Timezone), "UTC"),
			Notes:       req.Notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertTicket(ctx, ticket); err != nil {
			return fmt.Errorf("insert queue ticket: %w", err)
		}
		box.add(events.TypeQueueTicketCreated, newTicketPayload(ticket))
		return nil
	})
	if err != nil {
		return nil, done(err)
	}

	s.flush(ctx, &box)
	s.logger.Info().
		Str("ticket_id", ticket.ID.String()).
		Str("service_id", ticket.ServiceID.String()).
		Int("position", ticket.Position).
		Msg("queue ticket created")
	return ticket, done(nil)
}

// UpdateQueueTicketStatus moves a ticket through its lifecycle. Owners may
// only cancel; privileged actors may set any status.
func (s *Service) UpdateQueueTicketStatus(ctx context.Context, actor AuthenticatedUser, ticketID uuid.UUID, status TicketStatus, notes *string) (*QueueTicket, error) {
	ctx, done := s.startOp(ctx, "update_ticket",
		attribute.String("booking.ticket_id", ticketID.String()),
		attribute.String("booking.ticket_status", string(status)),
	)

	if !status.Valid() {
		return nil, done(wrapKind(ErrInvalidState, "unknown ticket status %q", status))
	}

	var (
		ticket *QueueTicket
		box    outbox
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		box = outbox{}

		// The queue lock comes before the ticket row lock, so the service is
		// read without a lock first.
		peek, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := tx.LockServiceQueue(ctx, peek.ServiceID); err != nil {
			return fmt.Errorf("lock service queue: %w", err)
		}

		ticket, err = tx.GetTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if !actor.Privileged() && (actor.ID != ticket.UserID || status != TicketCancelled) {
			return ErrForbidden
		}
		if ticket.Status.Terminal() {
			return wrapKind(ErrInvalidState, "ticket %s is %s", ticket.ID, ticket.Status)
		}

		return s.transitionTicket(ctx, tx, ticket, status, notes, &box)
	})
	if err != nil {
		return nil, done(err)
	}

	s.flush(ctx, &box)
	s.logger.Info().
		Str("ticket_id", ticket.ID.String()).
		Str("status", string(ticket.Status)).
		Msg("queue ticket updated")
	return ticket, done(nil)
}

// transitionTicket applies a status change to a ticket locked inside tx.
func (s *Service) transitionTicket(ctx context.Context, tx Tx, ticket *QueueTicket, status TicketStatus, notes *string, box *outbox) error {
	now := s.clock.Now()
	previous := ticket.Status

	ticket.Status = status
	if status == TicketNotified {
		expires := now.Add(s.cfg.HoldDuration)
		ticket.NotifiedAt = &now
		ticket.ExpiresAt = &expires
	} else {
		ticket.NotifiedAt = nil
		ticket.ExpiresAt = nil
	}
	if notes != nil {
		ticket.Notes = notes
	}
	if status == TicketWaiting && previous != TicketWaiting {
		waiting, err := tx.CountWaitingTickets(ctx, ticket.ServiceID, &ticket.ID)
		if err != nil {
			return fmt.Errorf("count waiting tickets: %w", err)
		}
		ticket.Position = waiting + 1
	}
	ticket.UpdatedAt = now

	if err := tx.UpdateTicket(ctx, ticket); err != nil {
		return fmt.Errorf("update queue ticket: %w", err)
	}
	if previous == TicketWaiting && status != TicketWaiting {
		if err := resequence(ctx, tx, ticket.ServiceID); err != nil {
			return err
		}
	}

	box.add(events.TypeQueueTicketUpdated, newTicketPayload(ticket))
	if status == TicketNotified {
		box.add(events.TypeQueueTicketNotified, newTicketPayload(ticket))
	}
	return nil
}

// PromoteNext notifies the head of the service's waitlist and starts its hold
// window. It goes through the same transition as a manual NOTIFIED update, so
// both queue.ticket.updated and queue.ticket.notified are emitted. It returns
// nil when nobody is waiting.
func (s *Service) PromoteNext(ctx context.Context, serviceID uuid.UUID) (*QueueTicket, error) {
	ctx, done := s.startOp(ctx, "promote_next", attribute.String("booking.service_id", serviceID.String()))

	var (
		ticket *QueueTicket
		box    outbox
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		box = outbox{}
		ticket = nil

		if err := tx.LockServiceQueue(ctx, serviceID); err != nil {
			return fmt.Errorf("lock service queue: %w", err)
		}
		waiting, err := tx.ListWaitingTickets(ctx, serviceID)
		if err != nil {
			return fmt.Errorf("list waiting tickets: %w", err)
		}
		if len(waiting) == 0 {
			return nil
		}

		head, err := tx.GetTicketForUpdate(ctx, waiting[0].ID)
		if err != nil {
			return err
		}
		if err := s.transitionTicket(ctx, tx, head, TicketNotified, nil, &box); err != nil {
			return err
		}
		ticket = head
		return nil
	})
	if err != nil {
		return nil, done(err)
	}

	if ticket != nil {
		s.metrics.ObservePromotion()
		s.flush(ctx, &box)
	}
	return ticket, done(nil)
}

// ListQueue returns the WAITING tickets of a service in promotion order.
func (s *Service) ListQueue(ctx context.Context, serviceID uuid.UUID) ([]QueueTicket, error) {
	ctx, done := s.startOp(ctx, "list_queue", attribute.String("booking.service_id", serviceID.String()))

	if _, err := s.repo.GetService(ctx, serviceID); err != nil {
		return nil, done(err)
	}
	tickets, err := s.repo.ListWaitingTickets(ctx, serviceID)
	if err != nil {
		return nil, done(fmt.Errorf("list waiting tickets: %w", err))
	}
	return tickets, done(nil)
}

// ExpireHolds expires every NOTIFIED ticket whose hold window has lapsed and
// passes the turn to the next waiting ticket. It returns the number expired.
func (s *Service) ExpireHolds(ctx context.Context) (int, error) {
	ctx, done := s.startOp(ctx, "expire_holds")

	lapsed, err := s.repo.FindExpiredHolds(ctx, s.clock.Now())
	if err != nil {
		return 0, done(fmt.Errorf("find expired holds: %w", err))
	}

	var (
		expired int
		errs    []error
	)
	for _, t := range lapsed {
		ok, err := s.expireHold(ctx, t.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("ticket_id", t.ID.String()).Msg("failed to expire hold")
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		expired++
		s.promoteAfter(ctx, t.ServiceID)
	}

	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("queue holds expired")
	}
	return expired, done(errors.Join(errs...))
}

// expireHold expires one ticket under the queue lock. The scan that found it
// ran outside any lock, so the hold is checked again on the locked row and
// left alone if it was claimed, cancelled or renewed in the meantime.
func (s *Service) expireHold(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	var (
		expired bool
		box     outbox
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		box = outbox{}
		expired = false

		peek, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := tx.LockServiceQueue(ctx, peek.ServiceID); err != nil {
			return fmt.Errorf("lock service queue: %w", err)
		}
		ticket, err := tx.GetTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if !holdLapsed(ticket, s.clock.Now()) {
			return nil
		}

		expired = true
		return s.transitionTicket(ctx, tx, ticket, TicketExpired, nil, &box)
	})
	if errors.Is(err, ErrTicketNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.flush(ctx, &box)
	if expired {
		s.logger.Info().Str("ticket_id", ticketID.String()).Msg("queue hold expired")
	}
	return expired, nil
}

func holdLapsed(t *QueueTicket, now time.Time) bool {
	return t.Status == TicketNotified && t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
