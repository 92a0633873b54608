package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	TypeAppointmentBooked      = "appointment.booked"
	TypeAppointmentRescheduled = "appointment.rescheduled"
	TypeAppointmentCancelled   = "appointment.cancelled"
	TypeQueueTicketCreated     = "queue.ticket.created"
	TypeQueueTicketUpdated     = "queue.ticket.updated"
	TypeQueueTicketNotified    = "queue.ticket.notified"
)

// Event is a notification record. Delivery to users happens elsewhere.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Emitter is an append-only sink for events.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// New marshals payload into an Event stamped with at (normalized to UTC).
func New(eventType string, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Payload: data, CreatedAt: at.UTC()}, nil
}

// MemorySink keeps events in emission order.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Emit(_ context.Context, ev Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of everything emitted so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns the emitted events with the given type, in order.
func (m *MemorySink) OfType(eventType string) []Event {
	var out []Event
	for _, ev := range m.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Fanout emits to every sink and joins their errors.
type Fanout []Emitter

func (f Fanout) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) error { return nil }
