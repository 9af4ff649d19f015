package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/models"
	"parkgate/backend/services/gate-service/internal/service"
)

type referenceRequest struct {
	Mode          string `json:"mode"`
	QRText        string `json:"qr_text"`
	VehicleNumber string `json:"vehicle_number"`
}

// reference leaves an absent mode unset so that scanned text selects QR on its own.
func (r referenceRequest) reference() (service.Reference, error) {
	ref := service.Reference{QRText: r.QRText, VehicleNumber: r.VehicleNumber}
	if strings.TrimSpace(r.Mode) != "" {
		mode, err := lifecycle.ParseMode(r.Mode)
		if err != nil {
			return ref, err
		}
		ref.Mode = mode
	}
	if strings.TrimSpace(ref.QRText) == "" && strings.TrimSpace(ref.VehicleNumber) == "" {
		return ref, lifecycle.Newf(lifecycle.CodeInvalidRequest, "qr_text or vehicle_number is required")
	}
	return ref, nil
}

func paymentMethod(raw string) models.PaymentMethod {
	return models.PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
}

// GateHandlers serve the staff entry and exit screens.
type GateHandlers struct {
	coord  Coordinator
	logger *zap.Logger
}

// NewGateHandlers returns handlers.
func NewGateHandlers(coord Coordinator, logger *zap.Logger) *GateHandlers {
	return &GateHandlers{coord: coord, logger: logger}
}

// Entry handles POST /api/gate/entry.
func (h *GateHandlers) Entry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		referenceRequest
		VehicleType   string    `json:"vehicle_type"`
		ZoneID        models.ID `json:"zone_id"`
		PaymentMethod string    `json:"payment_method"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ref, err := req.reference()
	if err != nil {
		writeLifecycleError(w, h.logger, "entry", err)
		return
	}

	res, err := h.coord.Enter(r.Context(), service.EntryInput{
		Reference:     ref,
		VehicleType:   strings.TrimSpace(req.VehicleType),
		ZoneID:        req.ZoneID,
		PaymentMethod: paymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeLifecycleError(w, h.logger, "entry", err)
		return
	}
	status := http.StatusOK
	if res.WalkIn {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"entry":   res,
	})
}

// Exit handles POST /api/gate/exit.
func (h *GateHandlers) Exit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		referenceRequest
		PaymentMethod string `json:"payment_method"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ref, err := req.reference()
	if err != nil {
		writeLifecycleError(w, h.logger, "exit", err)
		return
	}

	res, err := h.coord.Exit(r.Context(), service.ExitInput{
		Reference:     ref,
		PaymentMethod: paymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeLifecycleError(w, h.logger, "exit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"exit":    res,
	})
}

// Quote handles GET /api/gate/exit/quote.
func (h *GateHandlers) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref, err := referenceRequest{
		Mode:          q.Get("mode"),
		QRText:        q.Get("qr_text"),
		VehicleNumber: q.Get("vehicle_number"),
	}.reference()
	if err != nil {
		writeLifecycleError(w, h.logger, "quote", err)
		return
	}

	session, quote, err := h.coord.QuoteExit(r.Context(), ref)
	if err != nil {
		writeLifecycleError(w, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": session,
		"quote":   quote,
	})
}
