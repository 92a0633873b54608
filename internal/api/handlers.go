package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/appointment-waitlist-engine/internal/appointment"
	"github.com/hackgods/appointment-waitlist-engine/internal/clock"
)

func availabilityHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID, ok := uuidParam(w, r, "serviceID")
		if !ok {
			return
		}

		q := r.URL.Query()
		views, err := svc.GetAvailability(r.Context(), appointment.AvailabilityQuery{
			ServiceID: serviceID,
			From:      q.Get("from"),
			To:        q.Get("to"),
			Timezone:  q.Get("timezone"),
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := make([]SlotResponse, 0, len(views))
		for _, v := range views {
			resp = append(resp, toSlotResponse(v))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listQueueHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID, ok := uuidParam(w, r, "serviceID")
		if !ok {
			return
		}

		tickets, err := svc.ListQueue(r.Context(), serviceID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticketList(tickets))
	}
}

func bookHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}
		ticketID, err := optionalUUID(req.QueueTicketID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_queue_ticket_id", "queue_ticket_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), currentUser(r), appointment.BookRequest{
			ServiceID:     serviceID,
			SlotID:        slotID,
			QueueTicketID: ticketID,
			Locale:        req.Locale,
			Timezone:      req.Timezone,
			Notes:         req.Notes,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := intQuery(r, "page")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_page", "page must be an integer")
			return
		}
		limit, err := intQuery(r, "limit")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}

		result, err := svc.ListAppointments(r.Context(), currentUser(r), page, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := AppointmentListResponse{
			Data: make([]AppointmentResponse, 0, len(result.Data)),
			Meta: PageMetaResponse{
				Page:       result.Meta.Page,
				Limit:      result.Meta.Limit,
				Total:      result.Meta.Total,
				TotalPages: result.Meta.TotalPages,
			},
		}
		for i := range result.Data {
			resp.Data = append(resp.Data, toAppointmentResponse(&result.Data[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), currentUser(r), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func appointmentHistoryHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		rows, err := svc.ListAppointmentHistory(r.Context(), currentUser(r), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := make([]HistoryResponse, 0, len(rows))
		for _, h := range rows {
			resp = append(resp, toHistoryResponse(h))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func rescheduleHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		newSlotID, err := uuid.Parse(req.NewSlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "new_slot_id must be a valid UUID")
			return
		}

		appt, err := svc.Reschedule(r.Context(), currentUser(r), id, appointment.RescheduleRequest{
			NewSlotID: newSlotID,
			Timezone:  req.Timezone,
			Notes:     req.Notes,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if err := decodeJSON(r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		appt, err := svc.Cancel(r.Context(), currentUser(r), id, req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func createTicketHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateQueueTicketRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		slotID, err := optionalUUID(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		tz := ""
		if req.Timezone != nil {
			tz = *req.Timezone
		}
		loc, err := clock.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.KindInvalidRange), err.Error())
			return
		}
		desiredFrom, err := optionalInstant(req.DesiredFrom, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.KindInvalidRange), err.Error())
			return
		}
		desiredTo, err := optionalInstant(req.DesiredTo, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.KindInvalidRange), err.Error())
			return
		}

		ticket, err := svc.CreateQueueTicket(r.Context(), currentUser(r), appointment.CreateTicketRequest{
			ServiceID:   serviceID,
			SlotID:      slotID,
			DesiredFrom: desiredFrom,
			DesiredTo:   desiredTo,
			Timezone:    req.Timezone,
			Notes:       req.Notes,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toTicketResponse(ticket))
	}
}

func updateTicketStatusHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req UpdateQueueTicketStatusRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		status := appointment.TicketStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
		ticket, err := svc.UpdateQueueTicketStatus(r.Context(), currentUser(r), id, status, req.Notes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTicketResponse(ticket))
	}
}

func currentUser(r *http.Request) appointment.AuthenticatedUser {
	user, _ := UserFromContext(r.Context())
	return user
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+strings.ToLower(name), name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(raw *string) (*uuid.UUID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalInstant(raw *string, loc *time.Location) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := clock.ParseInstant(*raw, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func ticketList(tickets []appointment.QueueTicket) []QueueTicketResponse {
	resp := make([]QueueTicketResponse, 0, len(tickets))
	for i := range tickets {
		resp = append(resp, toTicketResponse(&tickets[i]))
	}
	return resp
}
