package appointment

import (
	"time"

	"github.com/google/uuid"
)

type appointmentPayload struct {
	AppointmentID  string  `json:"appointmentId"`
	UserID         string  `json:"userId"`
	ServiceID      string  `json:"serviceId"`
	SlotID         *string `json:"slotId"`
	PreviousSlotID *string `json:"previousSlotId,omitempty"`
	QueueTicketID  *string `json:"queueTicketId,omitempty"`
	Status         string  `json:"status"`
	ScheduledAt    string  `json:"scheduledAt"`
	Timezone       string  `json:"timezone"`
	Locale         string  `json:"locale"`
	Reason         *string `json:"reason,omitempty"`
}

type ticketPayload struct {
	TicketID   string  `json:"ticketId"`
	UserID     string  `json:"userId"`
	ServiceID  string  `json:"serviceId"`
	SlotID     *string `json:"slotId"`
	Status     string  `json:"status"`
	Position   int     `json:"position"`
	NotifiedAt *string `json:"notifiedAt"`
	ExpiresAt  *string `json:"expiresAt"`
}

func newAppointmentPayload(a *Appointment) appointmentPayload {
	return appointmentPayload{
		AppointmentID: a.ID.String(),
		UserID:        a.UserID.String(),
		ServiceID:     a.ServiceID.String(),
		SlotID:        idString(a.SlotID),
		QueueTicketID: idString(a.QueueTicketID),
		Status:        string(a.Status),
		ScheduledAt:   isoTime(a.ScheduledAt),
		Timezone:      a.Timezone,
		Locale:        a.Locale,
	}
}

func newTicketPayload(t *QueueTicket) ticketPayload {
	return ticketPayload{
		TicketID:   t.ID.String(),
		UserID:     t.UserID.String(),
		ServiceID:  t.ServiceID.String(),
		SlotID:     idString(t.SlotID),
		Status:     string(t.Status),
		Position:   t.Position,
		NotifiedAt: isoTimePtr(t.NotifiedAt),
		ExpiresAt:  isoTimePtr(t.ExpiresAt),
	}
}

func idString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isoTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := isoTime(*t)
	return &s
}
