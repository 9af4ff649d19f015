package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/clients"
	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/models"
	"parkgate/backend/services/gate-service/internal/qr"
)

// EntryInput is a gate entry by scan or typed plate. ZoneID and VehicleType only matter
// for walk-ins.
type EntryInput struct {
	Reference
	VehicleType   string
	ZoneID        models.ID
	PaymentMethod models.PaymentMethod
}

// EntryResult is an admitted vehicle.
type EntryResult struct {
	Session models.Session `json:"session"`
	WalkIn  bool           `json:"walk_in"`
	// Payment is set when money was collected at the gate.
	Payment   *models.Payment `json:"payment,omitempty"`
	QRPayload string          `json:"qr_payload"`
}

// Enter admits a vehicle: a scanned or looked-up reservation becomes ACTIVE, and a plate
// with no open session becomes a walk-in that pays the initial share at the gate.
func (c *Coordinator) Enter(ctx context.Context, in EntryInput) (res EntryResult, err error) {
	defer func() { c.observe(lifecycle.EvEnter, err) }()

	if in.ModeOrDefault() == lifecycle.ModeQR {
		payload, decodeErr := qr.Decode(in.QRText)
		if decodeErr != nil {
			c.logger.Info("unreadable qr scan at entry", zap.Error(decodeErr))
			return EntryResult{}, classify(decodeErr, lifecycle.CodeRejected)
		}
		unlock, lockErr := c.locks.Lock(ctx, sessionKey(models.ID(payload.SessionID)))
		if lockErr != nil {
			return EntryResult{}, classify(lockErr, lifecycle.CodeRejected)
		}
		defer unlock()

		session, resolveErr := c.resolve(ctx, in.Reference)
		if resolveErr != nil {
			return EntryResult{}, resolveErr
		}
		return c.enterReserved(ctx, session)
	}

	plate := models.NormalizeVehicleNumber(in.VehicleNumber)
	if plate == "" {
		return EntryResult{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Vehicle number is required")
	}
	unlock, err := c.locks.Lock(ctx, plateKey(plate))
	if err != nil {
		return EntryResult{}, classify(err, lifecycle.CodeRejected)
	}
	defer unlock()

	session, err := c.FindActiveSession(ctx, plate)
	switch {
	case err == nil:
		return c.enterReserved(ctx, session)
	case errors.Is(err, lifecycle.ErrSessionNotFound):
		return c.walkIn(ctx, plate, in)
	default:
		return EntryResult{}, err
	}
}

func (c *Coordinator) enterReserved(ctx context.Context, session models.Session) (EntryResult, error) {
	if err := lifecycle.Check(session.Status, lifecycle.EvEnter); err != nil {
		return EntryResult{}, err
	}

	now := c.clock.Now()
	if session.ReservationExpired(now) {
		return EntryResult{}, c.expire(ctx, session, now)
	}

	scanned, err := c.backend.ScanEntry(ctx, clients.ScanEntryRequest{
		SessionID:     session.ID,
		ZoneID:        session.ZoneID,
		InitialAmount: session.InitialAmountPaid,
		PaymentMethod: session.PaymentMethod,
	})
	if err != nil {
		return EntryResult{}, classify(err, lifecycle.CodeAlreadyEntered)
	}

	entered, err := lifecycle.Transition(session, lifecycle.Event{
		Kind:       lifecycle.EvEnter,
		At:         entryTime(scanned, now),
		SlotNumber: scanned.SlotNumber.String,
	})
	if err != nil {
		return EntryResult{}, err
	}

	c.logger.Info("reserved vehicle entered",
		zap.String("session_id", entered.ID.String()),
		zap.String("vehicle_number", entered.VehicleNumber))
	return EntryResult{
		Session:   entered,
		QRPayload: qr.Encode(entered.ID.String(), entered.NormalizedVehicleNumber()),
	}, nil
}

func (c *Coordinator) walkIn(ctx context.Context, plate string, in EntryInput) (EntryResult, error) {
	if in.ZoneID.IsZero() {
		return EntryResult{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Zone is required for a walk-in entry")
	}
	method := in.PaymentMethod
	if method == "" {
		method = models.PaymentCash
	}
	if !method.Valid() {
		return EntryResult{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Unsupported payment method %q", method)
	}
	if err := lifecycle.Check(lifecycle.StatusNone, lifecycle.EvWalkIn); err != nil {
		return EntryResult{}, err
	}

	zone, err := c.backend.GetZone(ctx, in.ZoneID)
	if err != nil {
		return EntryResult{}, classify(err, lifecycle.CodeRejected)
	}
	if zone.AvailableSlots() == 0 {
		return EntryResult{}, lifecycle.Newf(lifecycle.CodeSlotUnavailable, "No slots available in zone %s", zoneName(zone))
	}
	est, err := c.calc.Estimate(zone.HourlyRate)
	if err != nil {
		return EntryResult{}, classify(err, lifecycle.CodeRejected)
	}

	scanned, err := c.backend.ScanEntry(ctx, clients.ScanEntryRequest{
		VehicleNumber: plate,
		VehicleType:   in.VehicleType,
		ZoneID:        zone.ID,
		InitialAmount: est.Split.Initial,
		PaymentMethod: method,
	})
	if err != nil {
		return EntryResult{}, classify(err, lifecycle.CodeAlreadyEntered)
	}
	if scanned.SessionID.IsZero() {
		c.logger.Error("walk-in accepted without a session id", zap.String("vehicle_number", plate))
		return EntryResult{}, lifecycle.Newf(lifecycle.CodeServiceUnavailable,
			"Entry was accepted but not confirmed; look the vehicle up before retrying")
	}

	initial := est.Split.Initial
	if scanned.InitialAmount.Valid {
		initial = scanned.InitialAmount.Decimal
	}
	now := c.clock.Now()
	session, err := lifecycle.Transition(models.Session{
		ID:            scanned.SessionID,
		VehicleNumber: plate,
		VehicleType:   in.VehicleType,
	}, lifecycle.Event{
		Kind:       lifecycle.EvWalkIn,
		At:         entryTime(scanned, now),
		Amount:     initial,
		Method:     method,
		ZoneID:     zone.ID,
		SlotNumber: scanned.SlotNumber.String,
	})
	if err != nil {
		return EntryResult{}, err
	}

	var payment *models.Payment
	if initial.GreaterThan(decimal.Zero) {
		p := c.recordPayment(ctx, session.ID, models.PaymentInitial, initial, method)
		payment = &p
	}

	c.logger.Info("walk-in vehicle entered",
		zap.String("session_id", session.ID.String()),
		zap.String("vehicle_number", plate),
		zap.String("initial", initial.String()))
	return EntryResult{
		Session:   session,
		WalkIn:    true,
		Payment:   payment,
		QRPayload: qr.Encode(session.ID.String(), plate),
	}, nil
}

func entryTime(scanned clients.ScanEntryResult, fallback time.Time) time.Time {
	if scanned.EntryTime.Valid {
		return scanned.EntryTime.Time
	}
	return fallback
}
