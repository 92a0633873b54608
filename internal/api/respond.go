package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-waitlist-engine/internal/appointment"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps an engine error kind onto an HTTP status.
// Unclassified errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := appointment.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, string(appointment.KindInternal), "internal error")
		return
	}
	writeError(w, status, string(kind), err.Error())
}

func statusForKind(kind appointment.Kind) int {
	switch kind {
	case appointment.KindNotFound:
		return http.StatusNotFound
	case appointment.KindForbidden:
		return http.StatusForbidden
	case appointment.KindInvalidRange, appointment.KindInvalidState:
		return http.StatusBadRequest
	case appointment.KindSlotFull, appointment.KindSlotUnavailable, appointment.KindSlotBusy,
		appointment.KindNoOp, appointment.KindTicketNotActive:
		return http.StatusConflict
	case appointment.KindServiceMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a single JSON object. An empty body is accepted when
// allowEmpty is set and leaves dst untouched.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
