package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/clients"
	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/models"
	"parkgate/backend/services/gate-service/internal/qr"
)

// Reference is how an operator or scanner identifies a vehicle.
type Reference struct {
	Mode          lifecycle.Mode
	QRText        string
	VehicleNumber string
}

// ModeOrDefault returns the explicit mode, or QR whenever scanned text is present.
func (r Reference) ModeOrDefault() lifecycle.Mode {
	if r.Mode != "" {
		return r.Mode
	}
	if strings.TrimSpace(r.QRText) != "" {
		return lifecycle.ModeQR
	}
	return lifecycle.ModeManual
}

// FindActiveSession returns the most recent RESERVED or ACTIVE session for a plate typed
// in any spacing or case.
func (c *Coordinator) FindActiveSession(ctx context.Context, vehicleNumber string) (models.Session, error) {
	plate := models.NormalizeVehicleNumber(vehicleNumber)
	if plate == "" {
		return models.Session{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Vehicle number is required")
	}
	sessions, err := c.backend.ListSessions(ctx, clients.SessionFilter{
		Statuses:      []models.Status{models.StatusReserved, models.StatusActive},
		VehicleNumber: plate,
	})
	if err != nil {
		return models.Session{}, classify(err, lifecycle.CodeRejected)
	}
	best, ok := mostRecentOpen(sessions, plate)
	if !ok {
		return models.Session{}, lifecycle.Newf(lifecycle.CodeSessionNotFound, "No active session for vehicle %s", plate)
	}
	return best, nil
}

// mostRecentOpen ignores closed sessions even if the listing returned them. Ties on
// recency prefer the session already inside.
func mostRecentOpen(sessions []models.Session, plate string) (models.Session, bool) {
	var best models.Session
	found := false
	for _, s := range sessions {
		if !s.Status.IsOpen() || s.NormalizedVehicleNumber() != plate {
			continue
		}
		if !found || newer(s, best) {
			best = s
			found = true
		}
	}
	return best, found
}

func newer(a, b models.Session) bool {
	ka, kb := a.RecencyKey(), b.RecencyKey()
	if !ka.Equal(kb) {
		return ka.After(kb)
	}
	if a.Status != b.Status {
		return a.Status == models.StatusActive
	}
	return a.ID.String() > b.ID.String()
}

// resolve turns a reference into the backend's current record of the session.
func (c *Coordinator) resolve(ctx context.Context, ref Reference) (models.Session, error) {
	if ref.ModeOrDefault() == lifecycle.ModeManual {
		return c.FindActiveSession(ctx, ref.VehicleNumber)
	}

	payload, err := qr.Decode(ref.QRText)
	if err != nil {
		c.logger.Info("unreadable qr scan", zap.Error(err))
		return models.Session{}, classify(err, lifecycle.CodeRejected)
	}
	session, err := c.backend.GetSession(ctx, models.ID(payload.SessionID))
	if err != nil {
		return models.Session{}, classify(err, lifecycle.CodeRejected)
	}
	if payload.VehicleNumber != "" &&
		models.NormalizeVehicleNumber(payload.VehicleNumber) != session.NormalizedVehicleNumber() {
		return models.Session{}, lifecycle.Newf(lifecycle.CodeRejected,
			"QR code belongs to vehicle %s, not %s", payload.VehicleNumber, session.VehicleNumber)
	}
	return session, nil
}

// Availability is a zone with its free slots.
type Availability struct {
	Zone      models.Zone   `json:"zone"`
	Available int           `json:"available"`
	FreeSlots []models.Slot `json:"free_slots"`
}

// ZoneAvailability reports how many slots a zone can still offer.
func (c *Coordinator) ZoneAvailability(ctx context.Context, zoneID models.ID) (Availability, error) {
	if zoneID.IsZero() {
		return Availability{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Zone is required")
	}
	zone, err := c.backend.GetZone(ctx, zoneID)
	if err != nil {
		return Availability{}, classify(err, lifecycle.CodeRejected)
	}
	slots, err := c.backend.ListSlots(ctx, zoneID)
	if err != nil {
		return Availability{}, classify(err, lifecycle.CodeRejected)
	}
	free := make([]models.Slot, 0, len(slots))
	for _, s := range slots {
		if !s.IsOccupied {
			free = append(free, s)
		}
	}
	available := zone.AvailableSlots()
	// The zone counters and the slot list are updated separately; trust the stricter one.
	if len(slots) > 0 && len(free) < available {
		available = len(free)
	}
	return Availability{Zone: zone, Available: available, FreeSlots: free}, nil
}

// Receipt is a session with the payments recorded against it.
type Receipt struct {
	Session    models.Session   `json:"session"`
	Payments   []models.Payment `json:"payments"`
	Collected  decimal.Decimal  `json:"collected"`
	BalanceDue decimal.Decimal  `json:"balance_due"`
}

// Receipt returns what was charged for a session so far.
func (c *Coordinator) Receipt(ctx context.Context, sessionID models.ID) (Receipt, error) {
	if sessionID.IsZero() {
		return Receipt{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Session is required")
	}
	session, err := c.backend.GetSession(ctx, sessionID)
	if err != nil {
		return Receipt{}, classify(err, lifecycle.CodeRejected)
	}
	payments, err := c.ledger.ListBySession(ctx, sessionID)
	if err != nil {
		return Receipt{}, lifecycle.Wrap(lifecycle.CodeServiceUnavailable, "Payment ledger is unavailable", err)
	}
	collected := decimal.Zero
	for _, p := range payments {
		collected = collected.Add(p.Amount)
	}
	balance := decimal.Zero
	if session.Status == models.StatusCompleted {
		balance = session.BalanceDue()
		if balance.IsNegative() {
			balance = decimal.Zero
		}
	}
	return Receipt{Session: session, Payments: payments, Collected: collected, BalanceDue: balance}, nil
}
