package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// WithinTx runs fn inside one database transaction. A non-nil error from fn
	// rolls back every write made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetService(ctx context.Context, id uuid.UUID) (*ServiceInfo, error)

	// Read side
	ListSlotOccupancy(ctx context.Context, serviceID uuid.UUID, from, to time.Time) ([]SlotOccupancy, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, userID *uuid.UUID, limit, offset int) ([]Appointment, int, error)
	ListStatusHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistory, error)
	ListWaitingTickets(ctx context.Context, serviceID uuid.UUID) ([]QueueTicket, error)

	// Hold expiry sweep
	FindExpiredHolds(ctx context.Context, now time.Time) ([]QueueTicket, error)
}

// Tx is the set of reads and writes performed inside a booking transaction.
// Getters suffixed ForUpdate take a row lock held until commit.
type Tx interface {
	GetService(ctx context.Context, id uuid.UUID) (*ServiceInfo, error)

	GetSlot(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error)
	GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error)
	UpdateSlotStatus(ctx context.Context, id uuid.UUID, status SlotStatus) error

	// CountActiveAppointments counts non-cancelled appointments on the slot,
	// ignoring exclude when it is non-nil.
	CountActiveAppointments(ctx context.Context, slotID uuid.UUID, exclude *uuid.UUID) (int, error)

	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	InsertStatusHistory(ctx context.Context, h *StatusHistory) error

	// LockServiceQueue serializes queue mutations for one service until commit.
	// Lock order is slot rows, then the service queue, then ticket rows.
	LockServiceQueue(ctx context.Context, serviceID uuid.UUID) error
	GetTicket(ctx context.Context, id uuid.UUID) (*QueueTicket, error)
	GetTicketForUpdate(ctx context.Context, id uuid.UUID) (*QueueTicket, error)
	InsertTicket(ctx context.Context, t *QueueTicket) error
	UpdateTicket(ctx context.Context, t *QueueTicket) error
	UpdateTicketPosition(ctx context.Context, id uuid.UUID, position int) error
	CountWaitingTickets(ctx context.Context, serviceID uuid.UUID, exclude *uuid.UUID) (int, error)
	// ListWaitingTickets returns WAITING tickets ordered by (position, created_at).
	ListWaitingTickets(ctx context.Context, serviceID uuid.UUID) ([]QueueTicket, error)
}
