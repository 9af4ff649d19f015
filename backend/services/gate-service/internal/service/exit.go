package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/clients"
	"parkgate/backend/services/gate-service/internal/fee"
	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/models"
)

// ExitInput is a gate exit by scan or typed plate.
type ExitInput struct {
	Reference
	PaymentMethod models.PaymentMethod
}

// Settlement is what was actually charged. It equals the local quote unless the backend
// reported different figures, in which case the backend wins.
type Settlement struct {
	Total       decimal.Decimal `json:"total"`
	InitialPaid decimal.Decimal `json:"initial_paid"`
	BalanceDue  decimal.Decimal `json:"balance_due"`
	Clamped     bool            `json:"clamped"`
	Overridden  bool            `json:"overridden"`
	Note        string          `json:"note,omitempty"`
}

// ExitResult is a closed session.
type ExitResult struct {
	Session    models.Session `json:"session"`
	Quote      fee.Quote      `json:"quote"`
	Settlement Settlement     `json:"settlement"`
	Payment    models.Payment `json:"payment"`
}

// Exit settles and closes an ACTIVE session. The settlement request is sent at most once
// per session by this process; a session that is already settled is refused with
// AlreadyClosed before anything is sent.
func (c *Coordinator) Exit(ctx context.Context, in ExitInput) (res ExitResult, err error) {
	defer func() { c.observe(lifecycle.EvExit, err) }()

	method := in.PaymentMethod
	if method == "" {
		method = models.PaymentCash
	}
	if !method.Valid() {
		return ExitResult{}, lifecycle.Newf(lifecycle.CodeInvalidRequest, "Unsupported payment method %q", method)
	}

	found, err := c.resolve(ctx, in.Reference)
	if err != nil {
		return ExitResult{}, err
	}
	unlock, err := c.locks.Lock(ctx, sessionKey(found.ID))
	if err != nil {
		return ExitResult{}, classify(err, lifecycle.CodeRejected)
	}
	defer unlock()

	// Re-read under the lock; whatever resolve saw may already be settled.
	session, err := c.backend.GetSession(ctx, found.ID)
	if err != nil {
		return ExitResult{}, classify(err, lifecycle.CodeAlreadyClosed)
	}
	if err := lifecycle.Check(session.Status, lifecycle.EvExit); err != nil {
		return ExitResult{}, err
	}
	settled, err := c.ledger.HasSettlement(ctx, session.ID)
	if err != nil {
		return ExitResult{}, lifecycle.Wrap(lifecycle.CodeServiceUnavailable, "Payment ledger is unavailable", err)
	}
	if settled {
		c.logger.Warn("exit refused, settlement already recorded", zap.String("session_id", session.ID.String()))
		return ExitResult{}, lifecycle.Newf(lifecycle.CodeAlreadyClosed, "Session %s has already been settled", session.ID)
	}

	now := c.clock.Now()
	quote, err := c.quote(ctx, session, now)
	if err != nil {
		return ExitResult{}, err
	}

	reply, err := c.backend.ScanExit(ctx, clients.ScanExitRequest{
		SessionID:     session.ID,
		PaymentMethod: method,
	})
	if err != nil {
		le := classify(err, lifecycle.CodeAlreadyClosed)
		c.logger.Warn("settlement rejected",
			zap.String("session_id", session.ID.String()),
			zap.String("code", string(le.Code)),
			zap.Error(err))
		return ExitResult{}, le.WithQuote(&quote)
	}

	settlement := c.reconcile(session, quote, reply)
	exitAt := now
	if reply.ExitTime.Valid && reply.ExitTime.Time.After(session.EntryTime.Time) {
		exitAt = reply.ExitTime.Time
	}
	closed, err := lifecycle.Transition(session, lifecycle.Event{
		Kind:   lifecycle.EvExit,
		At:     exitAt,
		Amount: settlement.BalanceDue,
		Method: method,
	})
	if err != nil {
		// The backend has closed the session; report what it charged anyway.
		c.logger.Error("local exit transition failed after settlement",
			zap.String("session_id", session.ID.String()), zap.Error(err))
		closed = session
		closed.Status = models.StatusCompleted
		closed.TotalAmountPaid = settlement.InitialPaid.Add(settlement.BalanceDue)
	}

	payment := c.recordPayment(ctx, session.ID, models.PaymentSettlement, settlement.BalanceDue, method)

	c.logger.Info("session settled",
		zap.String("session_id", closed.ID.String()),
		zap.Int("charged_hours", quote.ChargedHours),
		zap.String("total", settlement.Total.String()),
		zap.String("balance_due", settlement.BalanceDue.String()),
		zap.Bool("overridden", settlement.Overridden))

	return ExitResult{Session: closed, Quote: quote, Settlement: settlement, Payment: payment}, nil
}

// QuoteExit prices an exit without sending anything.
func (c *Coordinator) QuoteExit(ctx context.Context, ref Reference) (models.Session, fee.Quote, error) {
	session, err := c.resolve(ctx, ref)
	if err != nil {
		return models.Session{}, fee.Quote{}, err
	}
	if err := lifecycle.Check(session.Status, lifecycle.EvExit); err != nil {
		return session, fee.Quote{}, err
	}
	quote, err := c.quote(ctx, session, c.clock.Now())
	if err != nil {
		return session, fee.Quote{}, err
	}
	return session, quote, nil
}

func (c *Coordinator) quote(ctx context.Context, session models.Session, now time.Time) (fee.Quote, error) {
	if !session.EntryTime.Valid {
		return fee.Quote{}, lifecycle.Newf(lifecycle.CodeBillingError, "Session %s has no entry time", session.ID)
	}
	zone, err := c.backend.GetZone(ctx, session.ZoneID)
	if err != nil {
		return fee.Quote{}, classify(err, lifecycle.CodeRejected)
	}
	quote, err := c.calc.Settle(session.EntryTime.Time, now, zone.HourlyRate, session.InitialAmountPaid)
	if err != nil {
		return fee.Quote{}, classify(err, lifecycle.CodeRejected)
	}
	return quote, nil
}

// reconcile lets the backend's figures override the local quote, keeping the balance
// non-negative either way.
func (c *Coordinator) reconcile(session models.Session, quote fee.Quote, reply clients.ScanExitResult) Settlement {
	s := Settlement{
		Total:       quote.Fee.Total,
		InitialPaid: quote.InitialPaid,
		BalanceDue:  quote.BalanceDue,
		Clamped:     quote.Clamped,
		Note:        quote.Note,
	}

	if reply.TotalAmount.Valid && !reply.TotalAmount.Decimal.Equal(s.Total) {
		s.Total = reply.TotalAmount.Decimal
		s.Overridden = true
	}
	if reply.InitialPaid.Valid && !reply.InitialPaid.Decimal.Equal(s.InitialPaid) {
		s.InitialPaid = reply.InitialPaid.Decimal
		s.Overridden = true
	}

	balance := s.BalanceDue
	switch {
	case reply.FinalBalance.Valid:
		balance = reply.FinalBalance.Decimal
	case s.Overridden:
		balance = s.Total.Sub(s.InitialPaid)
	}
	if !balance.Equal(s.BalanceDue) {
		s.Overridden = true
	}
	s.Clamped = false
	s.Note = ""
	if balance.IsNegative() {
		s.Note = fmt.Sprintf("initial payment %s exceeds the final total %s; nothing further is due", s.InitialPaid, s.Total)
		balance = decimal.Zero
		s.Clamped = true
	} else if quote.Clamped && !s.Overridden {
		s.Clamped = true
		s.Note = quote.Note
	}
	s.BalanceDue = balance

	if s.Overridden {
		c.metrics.SettlementMismatch()
		c.logger.Warn("backend settlement differs from local quote",
			zap.String("session_id", session.ID.String()),
			zap.String("local_total", quote.Fee.Total.String()),
			zap.String("backend_total", s.Total.String()),
			zap.String("local_balance", quote.BalanceDue.String()),
			zap.String("backend_balance", s.BalanceDue.String()))
	}
	return s
}
