package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/fee"
	"parkgate/backend/services/gate-service/internal/lifecycle"
)

const maxBodyBytes = 64 * 1024

type errorBody struct {
	Success bool       `json:"success"`
	Error   string     `json:"error"`
	Code    string     `json:"code,omitempty"`
	Quote   *fee.Quote `json:"quote,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// statusFor maps a lifecycle code onto the HTTP status the screens expect.
func statusFor(code lifecycle.Code) int {
	switch code {
	case lifecycle.CodeSessionNotFound:
		return http.StatusNotFound
	case lifecycle.CodeAlreadyEntered, lifecycle.CodeAlreadyClosed, lifecycle.CodeNotYetEntered,
		lifecycle.CodeReservationExpired, lifecycle.CodeSlotUnavailable:
		return http.StatusConflict
	case lifecycle.CodeInvalidQR, lifecycle.CodeInvalidRequest:
		return http.StatusBadRequest
	case lifecycle.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case lifecycle.CodeBillingError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeLifecycleError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	le, ok := lifecycle.As(err)
	if !ok {
		logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := statusFor(le.Code)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", zap.String("code", string(le.Code)), zap.Error(le.Cause()))
	}
	writeJSON(w, status, errorBody{Error: le.Message, Code: string(le.Code), Quote: le.Quote})
}

// decodeJSON reads a bounded JSON body; an empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
