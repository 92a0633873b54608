package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultPageLimit = 25
	MaxPageLimit     = 100
)

func (s *Service) GetAppointment(ctx context.Context, actor AuthenticatedUser, id uuid.UUID) (*Appointment, error) {
	ctx, done := s.startOp(ctx, "get_appointment", attribute.String("booking.appointment_id", id.String()))

	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, done(err)
	}
	if !actor.canActOn(appt.UserID) {
		return nil, done(ErrForbidden)
	}
	return appt, done(nil)
}

// ListAppointmentHistory returns the audit trail of one appointment, oldest first.
func (s *Service) ListAppointmentHistory(ctx context.Context, actor AuthenticatedUser, id uuid.UUID) ([]StatusHistory, error) {
	ctx, done := s.startOp(ctx, "list_history", attribute.String("booking.appointment_id", id.String()))

	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, done(err)
	}
	if !actor.canActOn(appt.UserID) {
		return nil, done(ErrForbidden)
	}

	history, err := s.repo.ListStatusHistory(ctx, id)
	if err != nil {
		return nil, done(fmt.Errorf("list status history: %w", err))
	}
	return history, done(nil)
}

// ListAppointments pages through appointments, newest first. Privileged actors
// see everyone's, others only their own.
func (s *Service) ListAppointments(ctx context.Context, actor AuthenticatedUser, page, limit int) (*AppointmentPage, error) {
	ctx, done := s.startOp(ctx, "list_appointments")

	page, limit = normalizePage(page, limit)

	var owner *uuid.UUID
	if !actor.Privileged() {
		owner = &actor.ID
	}

	rows, total, err := s.repo.ListAppointments(ctx, owner, limit, (page-1)*limit)
	if err != nil {
		return nil, done(fmt.Errorf("list appointments: %w", err))
	}
	if rows == nil {
		rows = []Appointment{}
	}

	return &AppointmentPage{
		Data: rows,
		Meta: PageMeta{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, done(nil)
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = DefaultPageLimit
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}
	return page, limit
}
