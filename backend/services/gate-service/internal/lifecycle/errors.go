package lifecycle

import (
	"errors"
	"fmt"

	"parkgate/backend/services/gate-service/internal/fee"
)

// Code classifies a rejected or failed operation for the screens.
type Code string

const (
	CodeInvalidQR          Code = "invalid_qr"
	CodeNotYetEntered      Code = "not_yet_entered"
	CodeAlreadyEntered     Code = "already_entered"
	CodeAlreadyClosed      Code = "already_closed"
	CodeSlotUnavailable    Code = "slot_unavailable"
	CodeSessionNotFound    Code = "session_not_found"
	CodeReservationExpired Code = "reservation_expired"
	CodeBillingError       Code = "billing_error"
	CodeServiceUnavailable Code = "service_unavailable"
	CodeRejected           Code = "rejected"
	CodeInvalidRequest     Code = "invalid_request"
)

// Error is the only error type the gate screens need to understand. Leaf package errors
// are translated into one of these before they leave the coordinator.
type Error struct {
	Code    Code
	Message string
	// Quote carries the would-have-been settlement for exit-side failures where it could
	// still be priced.
	Quote *fee.Quote
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any lifecycle error with the same code, so errors.Is(err, ErrAlreadyClosed)
// holds regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable reports whether the caller may safely try again unchanged. Only failures of
// reads qualify; a money-moving request that failed is surfaced, not replayed.
func (e *Error) Retryable() bool {
	return e.Code == CodeServiceUnavailable || e.Code == CodeInvalidQR
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidQR          = &Error{Code: CodeInvalidQR, Message: "Invalid QR code format"}
	ErrNotYetEntered      = &Error{Code: CodeNotYetEntered, Message: "Vehicle has a reservation but has not entered yet"}
	ErrAlreadyEntered     = &Error{Code: CodeAlreadyEntered, Message: "Vehicle is already parked inside"}
	ErrAlreadyClosed      = &Error{Code: CodeAlreadyClosed, Message: "Session is already closed"}
	ErrSlotUnavailable    = &Error{Code: CodeSlotUnavailable, Message: "No slots available in this zone"}
	ErrSessionNotFound    = &Error{Code: CodeSessionNotFound, Message: "No matching parking session found"}
	ErrReservationExpired = &Error{Code: CodeReservationExpired, Message: "Reservation has expired"}
	ErrBilling            = &Error{Code: CodeBillingError, Message: "Unable to price this session"}
	ErrServiceUnavailable = &Error{Code: CodeServiceUnavailable, Message: "Parking service is unavailable, please try again"}
	ErrRejected           = &Error{Code: CodeRejected, Message: "Request was rejected"}
	ErrInvalidRequest     = &Error{Code: CodeInvalidRequest, Message: "Invalid request"}
)

// Newf builds a lifecycle error with a specific message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a lifecycle error that remembers its cause for logging only; errors.Is
// and errors.As do not see through it.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithQuote returns a copy of e carrying q.
func (e *Error) WithQuote(q *fee.Quote) *Error {
	cp := *e
	cp.Quote = q
	return &cp
}

// Cause returns the underlying error kept for diagnostics.
func (e *Error) Cause() error {
	return e.cause
}

// As extracts a lifecycle error from err.
func As(err error) (*Error, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
