package appointment

import (
	"errors"
	"fmt"
)

// Kind is the stable error code callers branch on.
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindForbidden       Kind = "FORBIDDEN"
	KindInvalidRange    Kind = "INVALID_RANGE"
	KindInvalidState    Kind = "INVALID_STATE"
	KindSlotUnavailable Kind = "SLOT_UNAVAILABLE"
	KindSlotFull        Kind = "SLOT_FULL"
	KindServiceMismatch Kind = "SERVICE_MISMATCH"
	KindTicketNotActive Kind = "TICKET_NOT_ACTIVE"
	KindNoOp            Kind = "NO_OP"
	KindSlotBusy        Kind = "SLOT_BUSY"
	KindInternal        Kind = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrSlotNotFound        = &Error{KindNotFound, "slot not found"}
	ErrAppointmentNotFound = &Error{KindNotFound, "appointment not found"}
	ErrTicketNotFound      = &Error{KindNotFound, "queue ticket not found"}
	ErrServiceNotFound     = &Error{KindNotFound, "service not found"}

	ErrForbidden       = &Error{KindForbidden, "not allowed to act on this resource"}
	ErrSlotUnavailable = &Error{KindSlotUnavailable, "slot is cancelled or past its booking cutoff"}
	ErrSlotFull        = &Error{KindSlotFull, "slot has no remaining capacity"}
	ErrServiceMismatch = &Error{KindServiceMismatch, "resource belongs to a different service"}
	ErrTicketNotActive = &Error{KindTicketNotActive, "queue ticket is not waiting or notified"}
	ErrNoOp            = &Error{KindNoOp, "appointment is already on the requested slot"}
	ErrSlotBusy        = &Error{KindSlotBusy, "slot is currently being booked, please retry"}

	ErrInvalidRange = &Error{KindInvalidRange, "invalid time range"}
	ErrInvalidState = &Error{KindInvalidState, "invalid state transition"}
)

// wrapKind keeps the sentinel matchable while adding detail.
func wrapKind(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// KindOf returns the stable code of err, or KindInternal for anything unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(KindOf(err))
}
