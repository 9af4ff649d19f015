package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/models"
	"parkgate/backend/services/gate-service/internal/qr"
	redisstore "parkgate/backend/services/gate-service/internal/redis"
)

// RecoveredBooking is a cached booking confirmed against the backend.
type RecoveredBooking struct {
	Booking models.RecoverableBooking `json:"booking"`
	Session models.Session            `json:"session"`
	// Closed is set when the session has finished; the cache entry is then gone.
	Closed bool `json:"closed"`
}

// RecoverBooking shows a guest their in-progress booking again. The cached record only
// says where to look: the session is re-read from the backend every time, and the
// result never authorises a transition.
func (c *Coordinator) RecoverBooking(ctx context.Context, owner string) (RecoveredBooking, error) {
	if owner == "" {
		return RecoveredBooking{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Booking owner is required")
	}
	if c.bookings == nil {
		return RecoveredBooking{}, lifecycle.ErrSessionNotFound
	}

	cached, err := c.bookings.Load(ctx, owner)
	switch {
	case errors.Is(err, redisstore.ErrNotFound):
		return RecoveredBooking{}, lifecycle.Newf(lifecycle.CodeSessionNotFound, "No booking in progress")
	case errors.Is(err, redisstore.ErrCorrupt):
		c.discard(ctx, owner, "unreadable record", err)
		return RecoveredBooking{}, lifecycle.Newf(lifecycle.CodeSessionNotFound, "No booking in progress")
	case err != nil:
		return RecoveredBooking{}, lifecycle.Wrap(lifecycle.CodeServiceUnavailable, "Booking cache is unavailable", err)
	}
	if !cached.Complete() {
		c.discard(ctx, owner, "incomplete record", nil)
		return RecoveredBooking{}, lifecycle.Newf(lifecycle.CodeSessionNotFound, "No booking in progress")
	}

	session, err := c.backend.GetSession(ctx, models.ID(cached.BookingID))
	if err != nil {
		le := classify(err, lifecycle.CodeRejected)
		if le.Code == lifecycle.CodeSessionNotFound {
			c.discard(ctx, owner, "session no longer exists", err)
		}
		return RecoveredBooking{}, le
	}
	if session.NormalizedVehicleNumber() != models.NormalizeVehicleNumber(cached.VehicleNumber) {
		c.discard(ctx, owner, "vehicle mismatch", nil)
		return RecoveredBooking{}, lifecycle.Newf(lifecycle.CodeSessionNotFound, "No booking in progress")
	}

	refreshed := cached
	refreshed.Status = session.Status
	refreshed.QRCode = qr.Encode(session.ID.String(), session.NormalizedVehicleNumber())
	if !session.InitialAmountPaid.IsZero() {
		refreshed.InitialAmount = session.InitialAmountPaid
	}
	if !session.ZoneID.IsZero() {
		refreshed.ZoneID = session.ZoneID.String()
	}

	if session.Status.IsTerminal() {
		c.discard(ctx, owner, "session closed", nil)
		return RecoveredBooking{Booking: refreshed, Session: session, Closed: true}, nil
	}
	changed := refreshed.Status != cached.Status ||
		refreshed.QRCode != cached.QRCode ||
		refreshed.ZoneID != cached.ZoneID ||
		!refreshed.InitialAmount.Equal(cached.InitialAmount)
	if changed {
		if err := c.bookings.Save(ctx, owner, refreshed); err != nil {
			c.logger.Warn("refresh recoverable booking failed", zap.String("owner", owner), zap.Error(err))
		}
	}
	return RecoveredBooking{Booking: refreshed, Session: session}, nil
}

func (c *Coordinator) discard(ctx context.Context, owner, why string, cause error) {
	c.logger.Info("discarding recoverable booking", zap.String("owner", owner), zap.String("reason", why), zap.Error(cause))
	if err := c.bookings.Clear(ctx, owner); err != nil {
		c.logger.Warn("clear recoverable booking failed", zap.String("owner", owner), zap.Error(err))
	}
}
