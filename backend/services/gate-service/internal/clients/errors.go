package clients

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnavailable wraps transport failures and gateway errors: no usable answer came back.
var ErrUnavailable = errors.New("clients: parking backend unavailable")

// APIError is a response the backend did send, rejecting the request.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("parking backend: status %d: %s", e.Status, e.Message)
}

// Unavailable reports whether the status says the backend could not process the request
// at all, as opposed to refusing it.
func (e *APIError) Unavailable() bool {
	switch e.Status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsUnavailable reports whether err means the backend could not be reached.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unavailable()
}

// errorBody covers the error shapes the backend emits: {success:false,error}, DRF
// {detail} and the occasional {message}.
type errorBody struct {
	Success *bool           `json:"success"`
	Error   json.RawMessage `json:"error"`
	Detail  string          `json:"detail"`
	Message string          `json:"message"`
}

func (b errorBody) text() string {
	if len(b.Error) > 0 {
		var s string
		if err := json.Unmarshal(b.Error, &s); err == nil {
			return s
		}
		return strings.TrimSpace(string(b.Error))
	}
	if b.Detail != "" {
		return b.Detail
	}
	return b.Message
}

// apiErrorFrom builds an APIError from a non-success response.
func apiErrorFrom(status int, body []byte) *APIError {
	var eb errorBody
	msg := ""
	if err := json.Unmarshal(body, &eb); err == nil {
		msg = eb.text()
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if status < 400 {
		// success:false on a 2xx is still a rejection.
		status = http.StatusUnprocessableEntity
	}
	return &APIError{Status: status, Message: msg}
}

// declinedInBody reports a 2xx whose body carries success:false.
func declinedInBody(body []byte) bool {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return false
	}
	return eb.Success != nil && !*eb.Success
}
