package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-waitlist-engine/internal/appointment"
)

type BookAppointmentRequest struct {
	ServiceID     string  `json:"service_id"`
	SlotID        string  `json:"slot_id"`
	QueueTicketID *string `json:"queue_ticket_id,omitempty"`
	Locale        *string `json:"locale,omitempty"`
	Timezone      *string `json:"timezone,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

type RescheduleAppointmentRequest struct {
	NewSlotID string  `json:"new_slot_id"`
	Timezone  *string `json:"timezone,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type CreateQueueTicketRequest struct {
	ServiceID   string  `json:"service_id"`
	SlotID      *string `json:"slot_id,omitempty"`
	DesiredFrom *string `json:"desired_from,omitempty"`
	DesiredTo   *string `json:"desired_to,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

type UpdateQueueTicketStatusRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	ServiceID     uuid.UUID  `json:"service_id"`
	SlotID        *uuid.UUID `json:"slot_id"`
	QueueTicketID *uuid.UUID `json:"queue_ticket_id"`
	Status        string     `json:"status"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	Timezone      string     `json:"timezone"`
	Locale        string     `json:"locale"`
	Notes         *string    `json:"notes"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type AppointmentListResponse struct {
	Data []AppointmentResponse `json:"data"`
	Meta PageMetaResponse      `json:"meta"`
}

type PageMetaResponse struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type HistoryResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Event         string    `json:"event"`
	FromStatus    *string   `json:"from_status"`
	ToStatus      string    `json:"to_status"`
	ActorID       uuid.UUID `json:"actor_id"`
	Notes         *string   `json:"notes"`
	CreatedAt     time.Time `json:"created_at"`
}

type SlotResponse struct {
	ID                  uuid.UUID `json:"id"`
	ServiceID           uuid.UUID `json:"service_id"`
	StartAt             time.Time `json:"start_at"`
	EndAt               time.Time `json:"end_at"`
	Timezone            string    `json:"timezone"`
	Capacity            int       `json:"capacity"`
	BufferBeforeMinutes int       `json:"buffer_before_minutes"`
	BufferAfterMinutes  int       `json:"buffer_after_minutes"`
	Status              string    `json:"status"`
	ActiveCount         int       `json:"active_count"`
	Available           int       `json:"available"`
	QueueLength         int       `json:"queue_length"`
}

type QueueTicketResponse struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	ServiceID   uuid.UUID  `json:"service_id"`
	SlotID      *uuid.UUID `json:"slot_id"`
	Status      string     `json:"status"`
	Position    int        `json:"position"`
	DesiredFrom *time.Time `json:"desired_from"`
	DesiredTo   *time.Time `json:"desired_to"`
	Timezone    string     `json:"timezone"`
	NotifiedAt  *time.Time `json:"notified_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Notes       *string    `json:"notes"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		UserID:        a.UserID,
		ServiceID:     a.ServiceID,
		SlotID:        a.SlotID,
		QueueTicketID: a.QueueTicketID,
		Status:        string(a.Status),
		ScheduledAt:   a.ScheduledAt.UTC(),
		Timezone:      a.Timezone,
		Locale:        a.Locale,
		Notes:         a.Notes,
		CreatedAt:     a.CreatedAt.UTC(),
		UpdatedAt:     a.UpdatedAt.UTC(),
	}
}

func toHistoryResponse(h appointment.StatusHistory) HistoryResponse {
	resp := HistoryResponse{
		ID:            h.ID,
		AppointmentID: h.AppointmentID,
		Event:         string(h.Event),
		ToStatus:      string(h.ToStatus),
		ActorID:       h.ActorID,
		Notes:         h.Notes,
		CreatedAt:     h.CreatedAt.UTC(),
	}
	if h.FromStatus != nil {
		from := string(*h.FromStatus)
		resp.FromStatus = &from
	}
	return resp
}

func toSlotResponse(v appointment.SlotView) SlotResponse {
	return SlotResponse{
		ID:                  v.Slot.ID,
		ServiceID:           v.Slot.ServiceID,
		StartAt:             v.Slot.StartAt.UTC(),
		EndAt:               v.Slot.EndAt.UTC(),
		Timezone:            v.Slot.Timezone,
		Capacity:            v.Slot.Capacity,
		BufferBeforeMinutes: v.Slot.BufferBeforeMinutes,
		BufferAfterMinutes:  v.Slot.BufferAfterMinutes,
		Status:              string(v.Status),
		ActiveCount:         v.ActiveCount,
		Available:           v.Available,
		QueueLength:         v.QueueLength,
	}
}

func toTicketResponse(t *appointment.QueueTicket) QueueTicketResponse {
	return QueueTicketResponse{
		ID:          t.ID,
		UserID:      t.UserID,
		ServiceID:   t.ServiceID,
		SlotID:      t.SlotID,
		Status:      string(t.Status),
		Position:    t.Position,
		DesiredFrom: utc(t.DesiredFrom),
		DesiredTo:   utc(t.DesiredTo),
		Timezone:    t.Timezone,
		NotifiedAt:  utc(t.NotifiedAt),
		ExpiresAt:   utc(t.ExpiresAt),
		Notes:       t.Notes,
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
