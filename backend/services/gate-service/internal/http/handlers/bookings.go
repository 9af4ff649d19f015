package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/http/middleware"
	"parkgate/backend/services/gate-service/internal/models"
	"parkgate/backend/services/gate-service/internal/service"
)

// BookingHandlers serve the guest booking screens.
type BookingHandlers struct {
	coord  Coordinator
	logger *zap.Logger
}

// NewBookingHandlers returns handlers.
func NewBookingHandlers(coord Coordinator, logger *zap.Logger) *BookingHandlers {
	return &BookingHandlers{coord: coord, logger: logger}
}

// Create handles POST /api/bookings.
func (h *BookingHandlers) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		VehicleNumber string    `json:"vehicle_number"`
		VehicleType   string    `json:"vehicle_type"`
		ZoneID        models.ID `json:"zone_id"`
		PaymentMethod string    `json:"payment_method"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.coord.Reserve(r.Context(), service.ReserveInput{
		Owner:         principal.Subject,
		VehicleNumber: req.VehicleNumber,
		VehicleType:   strings.TrimSpace(req.VehicleType),
		ZoneID:        req.ZoneID,
		PaymentMethod: paymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeLifecycleError(w, h.logger, "reserve", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"booking": res,
	})
}

// Current handles GET /api/bookings/current.
func (h *BookingHandlers) Current(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	res, err := h.coord.RecoverBooking(r.Context(), principal.Subject)
	if err != nil {
		writeLifecycleError(w, h.logger, "recover booking", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"booking": res,
	})
}
