package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotFull      SlotStatus = "FULL"
	SlotCancelled SlotStatus = "CANCELLED"
)

type TicketStatus string

const (
	TicketWaiting   TicketStatus = "WAITING"
	TicketNotified  TicketStatus = "NOTIFIED"
	TicketCompleted TicketStatus = "COMPLETED"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketExpired   TicketStatus = "EXPIRED"
)

// Valid reports whether s is a known ticket status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketWaiting, TicketNotified, TicketCompleted, TicketCancelled, TicketExpired:
		return true
	}
	return false
}

// Terminal statuses never transition again.
func (s TicketStatus) Terminal() bool {
	return s == TicketCompleted || s == TicketCancelled || s == TicketExpired
}

type HistoryEvent string

const (
	EventBooked      HistoryEvent = "BOOKED"
	EventRescheduled HistoryEvent = "RESCHEDULED"
	EventCancelled   HistoryEvent = "CANCELLED"
)

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleSpecialist Role = "SPECIALIST"
	RoleUser       Role = "USER"
)

// AuthenticatedUser is the caller identity handed in by the transport layer.
type AuthenticatedUser struct {
	ID     uuid.UUID
	Role   Role
	Locale string
}

// Privileged is true for ADMIN and SPECIALIST.
func (u AuthenticatedUser) Privileged() bool {
	return u.Role == RoleAdmin || u.Role == RoleSpecialist
}

func (u AuthenticatedUser) canActOn(ownerID uuid.UUID) bool {
	return u.Privileged() || u.ID == ownerID
}

// ServiceInfo is a bookable service offering.
type ServiceInfo struct {
	ID              uuid.UUID
	Name            string
	DurationMinutes int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type AppointmentSlot struct {
	ID                  uuid.UUID
	ServiceID           uuid.UUID
	StartAt             time.Time
	EndAt               time.Time
	Timezone            string
	Capacity            int
	BufferBeforeMinutes int
	BufferAfterMinutes  int
	Status              SlotStatus
	Notes               *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// BookingCutoff is the last instant at which the slot accepts bookings.
func (s *AppointmentSlot) BookingCutoff() time.Time {
	return s.StartAt.Add(-time.Duration(s.BufferBeforeMinutes) * time.Minute)
}

type Appointment struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	ServiceID     uuid.UUID
	SlotID        *uuid.UUID
	QueueTicketID *uuid.UUID
	Status        AppointmentStatus
	ScheduledAt   time.Time
	Timezone      string
	Locale        string
	Notes         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsActive reports whether the appointment still holds a seat.
func (a *Appointment) IsActive() bool {
	return a.Status != StatusCancelled
}

// StatusHistory is an insert-only audit row.
type StatusHistory struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Event         HistoryEvent
	FromStatus    *AppointmentStatus
	ToStatus      AppointmentStatus
	ActorID       uuid.UUID
	Notes         *string
	CreatedAt     time.Time
}

type QueueTicket struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ServiceID   uuid.UUID
	SlotID      *uuid.UUID
	Status      TicketStatus
	Position    int
	DesiredFrom *time.Time
	DesiredTo   *time.Time
	Timezone    string
	NotifiedAt  *time.Time
	ExpiresAt   *time.Time
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SlotOccupancy is the raw per-slot counts read by the availability reader.
type SlotOccupancy struct {
	Slot         AppointmentSlot
	ActiveCount  int
	WaitingCount int
}

// SlotView is the availability projection of a slot.
type SlotView struct {
	Slot        AppointmentSlot
	ActiveCount int
	Available   int
	QueueLength int
	Status      SlotStatus
}

type PageMeta struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

type AppointmentPage struct {
	Data []Appointment
	Meta PageMeta
}
