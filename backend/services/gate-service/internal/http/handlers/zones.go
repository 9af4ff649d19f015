package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/models"
)

// ZoneHandlers serve capacity and tariff lookups.
type ZoneHandlers struct {
	coord  Coordinator
	logger *zap.Logger
}

// NewZoneHandlers returns handlers.
func NewZoneHandlers(coord Coordinator, logger *zap.Logger) *ZoneHandlers {
	return &ZoneHandlers{coord: coord, logger: logger}
}

// Availability handles GET /api/zones/availability.
func (h *ZoneHandlers) Availability(w http.ResponseWriter, r *http.Request) {
	zoneID := models.ID(strings.TrimSpace(r.URL.Query().Get("zone_id")))
	av, err := h.coord.ZoneAvailability(r.Context(), zoneID)
	if err != nil {
		writeLifecycleError(w, h.logger, "availability", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"availability": av,
	})
}

// Tariff handles GET /api/tariff.
func (h *ZoneHandlers) Tariff(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tariff":  h.coord.Policy(),
	})
}
