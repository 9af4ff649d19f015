// Package service holds the session lifecycle coordinator: the only component that asks
// the backend to move money. Every error it returns is a *lifecycle.Error.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/clients"
	"parkgate/backend/services/gate-service/internal/clock"
	"parkgate/backend/services/gate-service/internal/fee"
	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/metrics"
	"parkgate/backend/services/gate-service/internal/models"
	"parkgate/backend/services/gate-service/internal/repository"
)

// Backend is the parking REST API. It is authoritative for every session.
type Backend interface {
	GetZone(ctx context.Context, id models.ID) (models.Zone, error)
	ListSlots(ctx context.Context, zoneID models.ID) ([]models.Slot, error)
	GetSession(ctx context.Context, id models.ID) (models.Session, error)
	ListSessions(ctx context.Context, filter clients.SessionFilter) ([]models.Session, error)
	CreateReservation(ctx context.Context, req clients.ReservationRequest) (clients.ReservationResult, error)
	ScanEntry(ctx context.Context, req clients.ScanEntryRequest) (clients.ScanEntryResult, error)
	ScanExit(ctx context.Context, req clients.ScanExitRequest) (clients.ScanExitResult, error)
	CancelSession(ctx context.Context, id models.ID, reason string) error
}

// PaymentLedger records money movements. Record refuses a second payment of the same
// kind for a session with repository.ErrDuplicatePayment.
type PaymentLedger interface {
	Record(ctx context.Context, p *models.Payment) error
	HasSettlement(ctx context.Context, sessionID models.ID) (bool, error)
	ListBySession(ctx context.Context, sessionID models.ID) ([]models.Payment, error)
}

// BookingCache is the single-slot recoverable booking per guest.
type BookingCache interface {
	Save(ctx context.Context, owner string, booking models.RecoverableBooking) error
	Load(ctx context.Context, owner string) (models.RecoverableBooking, error)
	Clear(ctx context.Context, owner string) error
}

// Deps bundles the coordinator's collaborators.
type Deps struct {
	Backend    Backend
	Ledger     PaymentLedger
	Bookings   BookingCache
	Calculator *fee.Calculator
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	// ReservationHold is the booking deadline used when the backend does not send one.
	ReservationHold time.Duration
}

// Coordinator drives sessions through their lifecycle.
type Coordinator struct {
	backend  Backend
	ledger   PaymentLedger
	bookings BookingCache
	calc     *fee.Calculator
	clock    clock.Clock
	metrics  *metrics.Metrics
	hold     time.Duration
	locks    *keyLock
	logger   *zap.Logger
}

// NewCoordinator wires a coordinator. Bookings and Metrics may be nil.
func NewCoordinator(deps Deps, logger *zap.Logger) (*Coordinator, error) {
	if deps.Backend == nil {
		return nil, errors.New("service: backend is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("service: payment ledger is required")
	}
	calc := deps.Calculator
	if calc == nil {
		var err error
		if calc, err = fee.NewCalculator(fee.DefaultPolicy()); err != nil {
			return nil, err
		}
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	hold := deps.ReservationHold
	if hold <= 0 {
		hold = 2 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		backend:  deps.Backend,
		ledger:   deps.Ledger,
		bookings: deps.Bookings,
		calc:     calc,
		clock:    clk,
		metrics:  deps.Metrics,
		hold:     hold,
		locks:    newKeyLock(),
		logger:   logger,
	}, nil
}

// Policy returns the tariff in force.
func (c *Coordinator) Policy() fee.Policy {
	return c.calc.Policy()
}

// observe counts the outcome of one operation.
func (c *Coordinator) observe(event lifecycle.EventKind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if le, ok := lifecycle.As(err); ok {
			outcome = string(le.Code)
		}
	}
	c.metrics.Transition(string(event), outcome)
}

// recordPayment writes a ledger entry for money the backend has already accepted. A
// ledger failure is logged, not returned: the caller must not retry a settled request.
func (c *Coordinator) recordPayment(ctx context.Context, sessionID models.ID, kind models.PaymentKind,
	amount decimal.Decimal, method models.PaymentMethod) models.Payment {
	p := models.Payment{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Amount:    amount,
		Method:    method,
		CreatedAt: c.clock.Now(),
	}
	err := c.ledger.Record(ctx, &p)
	switch {
	case err == nil:
		c.metrics.Collected(string(kind), amount)
	case errors.Is(err, repository.ErrDuplicatePayment):
		c.logger.Warn("payment already in ledger",
			zap.String("session_id", sessionID.String()), zap.String("kind", string(kind)))
	default:
		c.logger.Error("record payment failed",
			zap.String("session_id", sessionID.String()),
			zap.String("kind", string(kind)),
			zap.String("amount", amount.String()),
			zap.Error(err))
	}
	return p
}

func sessionKey(id models.ID) string {
	return "session:" + id.String()
}

func plateKey(plate string) string {
	return "plate:" + plate
}
