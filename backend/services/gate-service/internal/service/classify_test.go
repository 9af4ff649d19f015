package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"parkgate/backend/services/gate-service/internal/clients"
	"parkgate/backend/services/gate-service/internal/fee"
	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/qr"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		conflict lifecycle.Code
		want     lifecycle.Code
	}{
		{"lifecycle passes through", lifecycle.ErrNotYetEntered, lifecycle.CodeRejected, lifecycle.CodeNotYetEntered},
		{"bad qr", fmt.Errorf("%w: eof", qr.ErrMalformedPayload), lifecycle.CodeRejected, lifecycle.CodeInvalidQR},
		{"missing qr field", qr.ErrMissingField, lifecycle.CodeRejected, lifecycle.CodeInvalidQR},
		{"bad interval", fee.ErrInvalidInterval, lifecycle.CodeRejected, lifecycle.CodeBillingError},
		{"negative rate", fee.ErrInvalidRate, lifecycle.CodeRejected, lifecycle.CodeBillingError},
		{"timeout", context.DeadlineExceeded, lifecycle.CodeRejected, lifecycle.CodeServiceUnavailable},
		{"transport", fmt.Errorf("%w: refused", clients.ErrUnavailable), lifecycle.CodeRejected, lifecycle.CodeServiceUnavailable},
		{"bad body", clients.ErrBadResponse, lifecycle.CodeRejected, lifecycle.CodeServiceUnavailable},
		{"unknown", errors.New("boom"), lifecycle.CodeRejected, lifecycle.CodeServiceUnavailable},
		{"gateway", &clients.APIError{Status: http.StatusBadGateway}, lifecycle.CodeRejected, lifecycle.CodeServiceUnavailable},
		{"expired token", &clients.APIError{Status: http.StatusUnauthorized, Message: "Token is expired"}, lifecycle.CodeRejected, lifecycle.CodeRejected},
		{"completed", &clients.APIError{Status: http.StatusBadRequest, Message: "Session already completed"}, lifecycle.CodeRejected, lifecycle.CodeAlreadyClosed},
		{"checked out", &clients.APIError{Status: http.StatusBadRequest, Message: "Vehicle already checked out"}, lifecycle.CodeRejected, lifecycle.CodeAlreadyClosed},
		{"inside", &clients.APIError{Status: http.StatusBadRequest, Message: "Vehicle is already inside"}, lifecycle.CodeRejected, lifecycle.CodeAlreadyEntered},
		{"not entered", &clients.APIError{Status: http.StatusBadRequest, Message: "Vehicle has not entered yet"}, lifecycle.CodeRejected, lifecycle.CodeNotYetEntered},
		{"reservation expired", &clients.APIError{Status: http.StatusBadRequest, Message: "Reservation expired"}, lifecycle.CodeRejected, lifecycle.CodeReservationExpired},
		{"zone full", &clients.APIError{Status: http.StatusBadRequest, Message: "Zone is full"}, lifecycle.CodeRejected, lifecycle.CodeSlotUnavailable},
		{"slot not found", &clients.APIError{Status: http.StatusNotFound, Message: "Slot not found"}, lifecycle.CodeRejected, lifecycle.CodeSessionNotFound},
		{"bare 404", &clients.APIError{Status: http.StatusNotFound}, lifecycle.CodeRejected, lifecycle.CodeSessionNotFound},
		{"bare 409 on exit", &clients.APIError{Status: http.StatusConflict}, lifecycle.CodeAlreadyClosed, lifecycle.CodeAlreadyClosed},
		{"bare 409 on reserve", &clients.APIError{Status: http.StatusConflict}, lifecycle.CodeSlotUnavailable, lifecycle.CodeSlotUnavailable},
		{"bare 400", &clients.APIError{Status: http.StatusBadRequest, Message: "vehicle_type: invalid"}, lifecycle.CodeRejected, lifecycle.CodeInvalidRequest},
		{"declined", &clients.APIError{Status: http.StatusUnprocessableEntity, Message: "Payment declined"}, lifecycle.CodeRejected, lifecycle.CodeRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err, tc.conflict)
			if got == nil || got.Code != tc.want {
				t.Fatalf("classify(%v) = %v, want %s", tc.err, got, tc.want)
			}
		})
	}

	if classify(nil, lifecycle.CodeRejected) != nil {
		t.Fatalf("nil error should classify to nil")
	}
}

func TestClassifyKeepsCause(t *testing.T) {
	cause := &clients.APIError{Status: http.StatusBadRequest, Message: "Session already completed"}
	le := classify(cause, lifecycle.CodeRejected)
	if le.Cause() != cause {
		t.Fatalf("expected cause to be kept for logging")
	}
	if le.Message != "Session already completed" {
		t.Fatalf("expected backend message, got %q", le.Message)
	}
}
