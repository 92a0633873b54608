package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-waitlist-engine/internal/appointment"
	"github.com/hackgods/appointment-waitlist-engine/internal/metrics"
)

// BookingService is the engine surface exposed over HTTP.
type BookingService interface {
	GetAvailability(ctx context.Context, q appointment.AvailabilityQuery) ([]appointment.SlotView, error)
	ListQueue(ctx context.Context, serviceID uuid.UUID) ([]appointment.QueueTicket, error)

	Book(ctx context.Context, actor appointment.AuthenticatedUser, req appointment.BookRequest) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, actor appointment.AuthenticatedUser, id uuid.UUID, req appointment.RescheduleRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, actor appointment.AuthenticatedUser, id uuid.UUID, reason *string) (*appointment.Appointment, error)

	GetAppointment(ctx context.Context, actor appointment.AuthenticatedUser, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointmentHistory(ctx context.Context, actor appointment.AuthenticatedUser, id uuid.UUID) ([]appointment.StatusHistory, error)
	ListAppointments(ctx context.Context, actor appointment.AuthenticatedUser, page, limit int) (*appointment.AppointmentPage, error)

	CreateQueueTicket(ctx context.Context, actor appointment.AuthenticatedUser, req appointment.CreateTicketRequest) (*appointment.QueueTicket, error)
	UpdateQueueTicketStatus(ctx context.Context, actor appointment.AuthenticatedUser, id uuid.UUID, status appointment.TicketStatus, notes *string) (*appointment.QueueTicket, error)
}

var _ BookingService = (*appointment.Service)(nil)

type RouterConfig struct {
	Service        BookingService
	Postgres       Pinger
	Redis          Pinger // optional
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler // optional, mounted at /metrics
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)

		r.Get("/services/{serviceID}/availability", availabilityHandler(cfg.Service))
		r.Get("/services/{serviceID}/queue", listQueueHandler(cfg.Service))

		r.Post("/appointments", bookHandler(cfg.Service))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Get("/appointments/{id}/history", appointmentHistoryHandler(cfg.Service))
		r.Post("/appointments/{id}/reschedule", rescheduleHandler(cfg.Service))
		r.Post("/appointments/{id}/cancel", cancelHandler(cfg.Service))

		r.Post("/queue-tickets", createTicketHandler(cfg.Service))
		r.Patch("/queue-tickets/{id}/status", updateTicketStatusHandler(cfg.Service))
	})

	return r
}
