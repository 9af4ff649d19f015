package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"parkgate/backend/services/gate-service/internal/clients"
	"parkgate/backend/services/gate-service/internal/fee"
	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/qr"
)

// messageRules map backend rejection text onto lifecycle codes. Order matters: the first
// rule whose every fragment appears wins.
var messageRules = []struct {
	fragments []string
	code      lifecycle.Code
}{
	{[]string{"already", "complet"}, lifecycle.CodeAlreadyClosed},
	{[]string{"already", "exit"}, lifecycle.CodeAlreadyClosed},
	{[]string{"already", "closed"}, lifecycle.CodeAlreadyClosed},
	{[]string{"already", "cancel"}, lifecycle.CodeAlreadyClosed},
	{[]string{"already", "checked out"}, lifecycle.CodeAlreadyClosed},
	{[]string{"already", "enter"}, lifecycle.CodeAlreadyEntered},
	{[]string{"already", "active"}, lifecycle.CodeAlreadyEntered},
	{[]string{"already", "inside"}, lifecycle.CodeAlreadyEntered},
	{[]string{"already", "parked"}, lifecycle.CodeAlreadyEntered},
	{[]string{"not", "entered"}, lifecycle.CodeNotYetEntered},
	{[]string{"not yet"}, lifecycle.CodeNotYetEntered},
	{[]string{"expired"}, lifecycle.CodeReservationExpired},
	{[]string{"no slot"}, lifecycle.CodeSlotUnavailable},
	{[]string{"no available"}, lifecycle.CodeSlotUnavailable},
	{[]string{"no free"}, lifecycle.CodeSlotUnavailable},
	{[]string{"slot", "unavailable"}, lifecycle.CodeSlotUnavailable},
	{[]string{"zone", "full"}, lifecycle.CodeSlotUnavailable},
	{[]string{"not found"}, lifecycle.CodeSessionNotFound},
	{[]string{"does not exist"}, lifecycle.CodeSessionNotFound},
}

func codeFromMessage(msg string) (lifecycle.Code, bool) {
	lower := strings.ToLower(msg)
	for _, rule := range messageRules {
		matched := true
		for _, f := range rule.fragments {
			if !strings.Contains(lower, f) {
				matched = false
				break
			}
		}
		if matched {
			return rule.code, true
		}
	}
	return "", false
}

// classify translates a collaborator error into the lifecycle taxonomy. conflict is the
// code a bare 409 means for the operation in progress.
func classify(err error, conflict lifecycle.Code) *lifecycle.Error {
	if err == nil {
		return nil
	}
	if le, ok := lifecycle.As(err); ok {
		return le
	}

	switch {
	case errors.Is(err, qr.ErrMalformedPayload), errors.Is(err, qr.ErrMissingField):
		return lifecycle.Wrap(lifecycle.CodeInvalidQR, lifecycle.ErrInvalidQR.Message, err)
	case errors.Is(err, fee.ErrInvalidInterval):
		return lifecycle.Wrap(lifecycle.CodeBillingError, "Exit time must be after entry time", err)
	case errors.Is(err, fee.ErrInvalidRate), errors.Is(err, fee.ErrInvalidTaxRate),
		errors.Is(err, fee.ErrInvalidHours), errors.Is(err, fee.ErrInvalidAmount),
		errors.Is(err, fee.ErrInvalidFraction):
		return lifecycle.Wrap(lifecycle.CodeBillingError, lifecycle.ErrBilling.Message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return lifecycle.Wrap(lifecycle.CodeServiceUnavailable, "Request timed out, please try again", err)
	case clients.IsUnavailable(err), errors.Is(err, clients.ErrBadResponse):
		return lifecycle.Wrap(lifecycle.CodeServiceUnavailable, lifecycle.ErrServiceUnavailable.Message, err)
	}

	var apiErr *clients.APIError
	if !errors.As(err, &apiErr) {
		return lifecycle.Wrap(lifecycle.CodeServiceUnavailable, lifecycle.ErrServiceUnavailable.Message, err)
	}

	if apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden {
		return lifecycle.Wrap(lifecycle.CodeRejected, "Parking service refused the credentials for this request", err)
	}
	if code, ok := codeFromMessage(apiErr.Message); ok {
		return lifecycle.Wrap(code, apiErr.Message, err)
	}
	switch apiErr.Status {
	case http.StatusNotFound:
		return lifecycle.Wrap(lifecycle.CodeSessionNotFound, lifecycle.ErrSessionNotFound.Message, err)
	case http.StatusConflict:
		return lifecycle.Wrap(conflict, apiErr.Message, err)
	case http.StatusBadRequest:
		return lifecycle.Wrap(lifecycle.CodeInvalidRequest, apiErr.Message, err)
	}
	if apiErr.Status >= 500 {
		return lifecycle.Wrap(lifecycle.CodeServiceUnavailable, lifecycle.ErrServiceUnavailable.Message, err)
	}
	return lifecycle.Wrap(lifecycle.CodeRejected, apiErr.Message, err)
}
