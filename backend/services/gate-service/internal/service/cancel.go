package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/clients"
	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/models"
)

const expiryReason = "reservation expired"

// CancelInput is a staff or admin cancellation.
type CancelInput struct {
	SessionID models.ID
	Reason    string
}

// Cancel closes a RESERVED or ACTIVE session without settlement.
func (c *Coordinator) Cancel(ctx context.Context, in CancelInput) (session models.Session, err error) {
	defer func() { c.observe(lifecycle.EvCancel, err) }()

	if in.SessionID.IsZero() {
		return models.Session{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Session is required")
	}
	unlock, err := c.locks.Lock(ctx, sessionKey(in.SessionID))
	if err != nil {
		return models.Session{}, classify(err, lifecycle.CodeRejected)
	}
	defer unlock()

	current, err := c.backend.GetSession(ctx, in.SessionID)
	if err != nil {
		return models.Session{}, classify(err, lifecycle.CodeRejected)
	}
	if err := lifecycle.Check(current.Status, lifecycle.EvCancel); err != nil {
		return current, err
	}

	reason := in.Reason
	if reason == "" {
		reason = "cancelled by staff"
	}
	if err := c.backend.CancelSession(ctx, current.ID, reason); err != nil {
		return current, classify(err, lifecycle.CodeAlreadyClosed)
	}

	cancelled, err := lifecycle.Transition(current, lifecycle.Event{Kind: lifecycle.EvCancel, At: c.clock.Now()})
	if err != nil {
		return current, err
	}
	c.logger.Info("session cancelled",
		zap.String("session_id", cancelled.ID.String()),
		zap.String("previous_status", string(current.Status)),
		zap.String("reason", reason))
	return cancelled, nil
}

// ExpireReservations cancels every RESERVED session past its booking deadline and
// returns how many were cancelled.
func (c *Coordinator) ExpireReservations(ctx context.Context) (int, error) {
	reserved, err := c.backend.ListSessions(ctx, clients.SessionFilter{
		Statuses: []models.Status{models.StatusReserved},
	})
	if err != nil {
		return 0, classify(err, lifecycle.CodeRejected)
	}

	now := c.clock.Now()
	expired := 0
	var errs []error
	for _, s := range reserved {
		if !s.ReservationExpired(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.expireLocked(ctx, s.ID, now); err != nil {
			if errors.Is(err, lifecycle.ErrReservationExpired) {
				expired++
				continue
			}
			if !errors.Is(err, lifecycle.ErrAlreadyClosed) && !errors.Is(err, lifecycle.ErrRejected) {
				c.logger.Warn("expire reservation failed", zap.String("session_id", s.ID.String()), zap.Error(err))
				errs = append(errs, err)
			}
		}
	}
	return expired, errors.Join(errs...)
}

// expireLocked re-reads the session under its lock before expiring it.
func (c *Coordinator) expireLocked(ctx context.Context, id models.ID, now time.Time) error {
	unlock, err := c.locks.Lock(ctx, sessionKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	current, err := c.backend.GetSession(ctx, id)
	if err != nil {
		return classify(err, lifecycle.CodeRejected)
	}
	return c.expire(ctx, current, now)
}

// expire cancels a reservation whose deadline passed. On success it returns
// ErrReservationExpired, which is what the caller reports.
func (c *Coordinator) expire(ctx context.Context, session models.Session, now time.Time) error {
	if _, err := lifecycle.Transition(session, lifecycle.Event{Kind: lifecycle.EvExpire, At: now}); err != nil {
		return err
	}
	if err := c.backend.CancelSession(ctx, session.ID, expiryReason); err != nil {
		return classify(err, lifecycle.CodeAlreadyClosed)
	}
	c.observe(lifecycle.EvExpire, nil)
	c.logger.Info("reservation expired",
		zap.String("session_id", session.ID.String()),
		zap.Time("deadline", session.BookingExpiryTime.Time))
	return lifecycle.Newf(lifecycle.CodeReservationExpired,
		"Reservation for %s expired at %s", session.VehicleNumber, session.BookingExpiryTime.Time.Format(time.RFC3339))
}
