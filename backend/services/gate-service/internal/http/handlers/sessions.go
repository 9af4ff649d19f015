package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/models"
	"parkgate/backend/services/gate-service/internal/qr"
	"parkgate/backend/services/gate-service/internal/service"
)

// SessionHandlers serve session lookups and staff actions.
type SessionHandlers struct {
	coord  Coordinator
	logger *zap.Logger
}

// NewSessionHandlers returns handlers.
func NewSessionHandlers(coord Coordinator, logger *zap.Logger) *SessionHandlers {
	return &SessionHandlers{coord: coord, logger: logger}
}

// Cancel handles POST /api/sessions/cancel.
func (h *SessionHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID models.ID `json:"session_id"`
		Reason    string    `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := h.coord.Cancel(r.Context(), service.CancelInput{
		SessionID: req.SessionID,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeLifecycleError(w, h.logger, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": session,
	})
}

// Active handles GET /api/sessions/active.
func (h *SessionHandlers) Active(w http.ResponseWriter, r *http.Request) {
	session, err := h.coord.FindActiveSession(r.Context(), r.URL.Query().Get("vehicle_number"))
	if err != nil {
		writeLifecycleError(w, h.logger, "find session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": session,
	})
}

// Receipt handles GET /api/sessions/receipt.
func (h *SessionHandlers) Receipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.coord.Receipt(r.Context(), models.ID(strings.TrimSpace(r.URL.Query().Get("session_id"))))
	if err != nil {
		writeLifecycleError(w, h.logger, "receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"receipt": receipt,
	})
}

// QRImage handles GET /api/sessions/qr and renders the gate payload as a PNG.
func (h *SessionHandlers) QRImage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := strings.TrimSpace(q.Get("session_id"))
	if sessionID == "" {
		writeLifecycleError(w, h.logger, "qr image", lifecycle.Newf(lifecycle.CodeInvalidRequest, "session_id is required"))
		return
	}
	size := 0
	if raw := q.Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "size must be a number")
			return
		}
		size = parsed
	}

	payload := qr.Encode(sessionID, models.NormalizeVehicleNumber(q.Get("vehicle_number")))
	img, err := qr.RenderPNG(payload, size)
	if err != nil {
		h.logger.Error("render qr failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render qr code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}
