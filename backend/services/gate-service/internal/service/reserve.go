package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gopkg.in/guregu/null.v4"

	"parkgate/backend/services/gate-service/internal/clients"
	"parkgate/backend/services/gate-service/internal/fee"
	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/models"
	"parkgate/backend/services/gate-service/internal/qr"
)

// ReserveInput is a guest booking request.
type ReserveInput struct {
	// Owner keys the guest's recoverable booking; empty skips caching.
	Owner         string
	VehicleNumber string
	VehicleType   string
	ZoneID        models.ID
	PaymentMethod models.PaymentMethod
}

// ReserveResult is a confirmed reservation.
type ReserveResult struct {
	Session   models.Session `json:"session"`
	Estimate  fee.Estimate   `json:"estimate"`
	Payment   models.Payment `json:"payment"`
	QRPayload string         `json:"qr_payload"`
}

// Reserve books a slot before arrival and collects the initial share of the estimate.
func (c *Coordinator) Reserve(ctx context.Context, in ReserveInput) (res ReserveResult, err error) {
	defer func() { c.observe(lifecycle.EvReserve, err) }()

	plate := models.NormalizeVehicleNumber(in.VehicleNumber)
	if plate == "" {
		return ReserveResult{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Vehicle number is required")
	}
	if in.ZoneID.IsZero() {
		return ReserveResult{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Zone is required")
	}
	method := in.PaymentMethod
	if method == "" {
		method = models.PaymentUPI
	}
	if !method.Valid() {
		return ReserveResult{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Unsupported payment method %q", method)
	}

	unlock, err := c.locks.Lock(ctx, plateKey(plate))
	if err != nil {
		return ReserveResult{}, classify(err, lifecycle.CodeRejected)
	}
	defer unlock()

	existing, err := c.FindActiveSession(ctx, plate)
	switch {
	case err == nil:
		if checkErr := lifecycle.Check(existing.Status, lifecycle.EvReserve); checkErr != nil {
			return ReserveResult{}, checkErr
		}
	case !errors.Is(err, lifecycle.ErrSessionNotFound):
		return ReserveResult{}, err
	}

	zone, err := c.backend.GetZone(ctx, in.ZoneID)
	if err != nil {
		return ReserveResult{}, classify(err, lifecycle.CodeRejected)
	}
	if zone.AvailableSlots() == 0 {
		return ReserveResult{}, lifecycle.Newf(lifecycle.CodeSlotUnavailable, "No slots available in zone %s", zoneName(zone))
	}

	est, err := c.calc.Estimate(zone.HourlyRate)
	if err != nil {
		return ReserveResult{}, classify(err, lifecycle.CodeRejected)
	}

	created, err := c.backend.CreateReservation(ctx, clients.ReservationRequest{
		VehicleNumber:  plate,
		VehicleType:    in.VehicleType,
		ZoneID:         zone.ID,
		InitialAmount:  est.Split.Initial,
		EstimatedTotal: est.Fee.Total,
		PaymentMethod:  method,
	})
	if err != nil {
		return ReserveResult{}, classify(err, lifecycle.CodeSlotUnavailable)
	}
	if created.SessionID.IsZero() {
		c.logger.Error("reservation accepted without a session id", zap.String("vehicle_number", plate))
		return ReserveResult{}, lifecycle.Newf(lifecycle.CodeServiceUnavailable,
			"Reservation was accepted but not confirmed; check the booking list before retrying")
	}

	now := c.clock.Now()
	bookedAt := now
	if created.BookedAt.Valid {
		bookedAt = created.BookedAt.Time
	}
	initial := est.Split.Initial
	if created.InitialAmount.Valid && !created.InitialAmount.Decimal.Equal(initial) {
		c.logger.Warn("backend recorded a different initial amount",
			zap.String("session_id", created.SessionID.String()),
			zap.String("local", initial.String()),
			zap.String("backend", created.InitialAmount.Decimal.String()))
		initial = created.InitialAmount.Decimal
	}

	session, err := lifecycle.Transition(models.Session{
		ID:            created.SessionID,
		VehicleNumber: plate,
		VehicleType:   in.VehicleType,
	}, lifecycle.Event{
		Kind:       lifecycle.EvReserve,
		At:         bookedAt,
		Amount:     initial,
		Method:     method,
		ZoneID:     zone.ID,
		SlotNumber: created.SlotNumber.String,
	})
	if err != nil {
		return ReserveResult{}, err
	}
	session.BookingExpiryTime = created.BookingExpiryTime
	if !session.BookingExpiryTime.Valid {
		session.BookingExpiryTime = null.TimeFrom(bookedAt.Add(c.hold))
	}

	payment := c.recordPayment(ctx, session.ID, models.PaymentInitial, initial, method)
	payload := qr.Encode(session.ID.String(), plate)

	if in.Owner != "" && c.bookings != nil {
		booking := models.RecoverableBooking{
			BookingID:      session.ID.String(),
			VehicleNumber:  plate,
			QRCode:         payload,
			ZoneID:         zone.ID.String(),
			InitialAmount:  initial,
			EstimatedTotal: est.Fee.Total,
			Status:         session.Status,
			SavedAt:        now,
		}
		if err := c.bookings.Save(ctx, in.Owner, booking); err != nil {
			c.logger.Warn("cache recoverable booking failed", zap.String("owner", in.Owner), zap.Error(err))
		}
	}

	c.logger.Info("reservation created",
		zap.String("session_id", session.ID.String()),
		zap.String("zone_id", zone.ID.String()),
		zap.String("initial", initial.String()))

	return ReserveResult{Session: session, Estimate: est, Payment: payment, QRPayload: payload}, nil
}

func zoneName(z models.Zone) string {
	if z.Name != "" {
		return z.Name
	}
	return z.ID.String()
}
