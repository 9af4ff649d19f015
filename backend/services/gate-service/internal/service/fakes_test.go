package service

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v4"

	"parkgate/backend/services/gate-service/internal/clients"
	"parkgate/backend/services/gate-service/internal/clock"
	"parkgate/backend/services/gate-service/internal/fee"
	"parkgate/backend/services/gate-service/internal/metrics"
	"parkgate/backend/services/gate-service/internal/models"
	redisstore "parkgate/backend/services/gate-service/internal/redis"
	"parkgate/backend/services/gate-service/internal/repository"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decimalNull(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

// fakeBackend behaves like the parking API: it owns every session and serialises
// transitions itself.
type fakeBackend struct {
	mu       sync.Mutex
	clock    *clock.Manual
	zones    map[models.ID]models.Zone
	slots    map[models.ID][]models.Slot
	sessions map[models.ID]models.Session
	nextID   int
	hold     time.Duration

	scanEntryCalls int
	scanExitCalls  int
	reserveCalls   int
	cancelCalls    int

	scanExitErr  error
	exitOverride *clients.ScanExitResult
	staleReads   bool
	listErr      error
}

func newFakeBackend(clk *clock.Manual) *fakeBackend {
	return &fakeBackend{
		clock:    clk,
		zones:    map[models.ID]models.Zone{"1": {ID: "1", Name: "A", HourlyRate: dec("30"), TotalSlots: 20, OccupiedSlots: 5}},
		slots:    map[models.ID][]models.Slot{},
		sessions: map[models.ID]models.Session{},
		nextID:   100,
		hold:     30 * time.Minute,
	}
}

func (b *fakeBackend) put(s models.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.ID] = s
}

func (b *fakeBackend) session(id models.ID) models.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[id]
}

func (b *fakeBackend) newID() models.ID {
	b.nextID++
	return models.ID(strconv.Itoa(b.nextID))
}

func (b *fakeBackend) GetZone(ctx context.Context, id models.ID) (models.Zone, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	z, ok := b.zones[id]
	if !ok {
		return models.Zone{}, &clients.APIError{Status: http.StatusNotFound, Message: "Not found."}
	}
	return z, nil
}

func (b *fakeBackend) ListSlots(ctx context.Context, zoneID models.ID) ([]models.Slot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Slot(nil), b.slots[zoneID]...), nil
}

func (b *fakeBackend) GetSession(ctx context.Context, id models.ID) (models.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return models.Session{}, &clients.APIError{Status: http.StatusNotFound, Message: "Not found."}
	}
	if b.staleReads && s.Status == models.StatusCompleted {
		s.Status = models.StatusActive
		s.ExitTime = null.Time{}
	}
	return s, nil
}

func (b *fakeBackend) ListSessions(ctx context.Context, filter clients.SessionFilter) ([]models.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	var out []models.Session
	for _, s := range b.sessions {
		if filter.VehicleNumber != "" && s.VehicleNumber != filter.VehicleNumber {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, st := range filter.Statuses {
				if s.Status == st {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (b *fakeBackend) CreateReservation(ctx context.Context, req clients.ReservationRequest) (clients.ReservationResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserveCalls++
	now := b.clock.Now()
	s := models.Session{
		ID:                b.newID(),
		VehicleNumber:     req.VehicleNumber,
		VehicleType:       req.VehicleType,
		ZoneID:            req.ZoneID,
		Status:            models.StatusReserved,
		BookedAt:          null.TimeFrom(now),
		BookingExpiryTime: null.TimeFrom(now.Add(b.hold)),
		InitialAmountPaid: req.InitialAmount,
		TotalAmountPaid:   req.InitialAmount,
		PaymentMethod:     req.PaymentMethod,
	}
	b.sessions[s.ID] = s
	return clients.ReservationResult{
		SessionID:         s.ID,
		BookedAt:          s.BookedAt,
		BookingExpiryTime: s.BookingExpiryTime,
		InitialAmount:     decimal.NewNullDecimal(req.InitialAmount),
	}, nil
}

func (b *fakeBackend) ScanEntry(ctx context.Context, req clients.ScanEntryRequest) (clients.ScanEntryResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanEntryCalls++
	now := b.clock.Now()

	if !req.SessionID.IsZero() {
		s, ok := b.sessions[req.SessionID]
		if !ok {
			return clients.ScanEntryResult{}, &clients.APIError{Status: http.StatusNotFound, Message: "Session not found"}
		}
		if s.Status != models.StatusReserved {
			return clients.ScanEntryResult{}, &clients.APIError{Status: http.StatusBadRequest, Message: "Vehicle already entered"}
		}
		s.Status = models.StatusActive
		s.EntryTime = null.TimeFrom(now)
		s.SlotNumber = null.StringFrom("A-7")
		b.sessions[s.ID] = s
		return clients.ScanEntryResult{SessionID: s.ID, EntryTime: s.EntryTime, SlotNumber: s.SlotNumber}, nil
	}

	for _, s := range b.sessions {
		if s.VehicleNumber == req.VehicleNumber && s.Status.IsOpen() {
			return clients.ScanEntryResult{}, &clients.APIError{Status: http.StatusBadRequest, Message: "Vehicle already entered"}
		}
	}
	s := models.Session{
		ID:                b.newID(),
		VehicleNumber:     req.VehicleNumber,
		ZoneID:            req.ZoneID,
		Status:            models.StatusActive,
		EntryTime:         null.TimeFrom(now),
		SlotNumber:        null.StringFrom("B-2"),
		InitialAmountPaid: req.InitialAmount,
		TotalAmountPaid:   req.InitialAmount,
		PaymentMethod:     req.PaymentMethod,
	}
	b.sessions[s.ID] = s
	return clients.ScanEntryResult{
		SessionID:     s.ID,
		InitialAmount: decimal.NewNullDecimal(req.InitialAmount),
		EntryTime:     s.EntryTime,
		SlotNumber:    s.SlotNumber,
	}, nil
}

func (b *fakeBackend) ScanExit(ctx context.Context, req clients.ScanExitRequest) (clients.ScanExitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanExitCalls++
	if b.scanExitErr != nil {
		return clients.ScanExitResult{}, b.scanExitErr
	}
	s, ok := b.sessions[req.SessionID]
	if !ok {
		return clients.ScanExitResult{}, &clients.APIError{Status: http.StatusNotFound, Message: "Session not found"}
	}
	if s.Status == models.StatusCompleted {
		return clients.ScanExitResult{}, &clients.APIError{Status: http.StatusBadRequest, Message: "Session already completed"}
	}
	if s.Status != models.StatusActive {
		return clients.ScanExitResult{}, &clients.APIError{Status: http.StatusBadRequest, Message: "Vehicle has not entered yet"}
	}

	now := b.clock.Now()
	q, err := mustCalc().Settle(s.EntryTime.Time, now, b.zones[s.ZoneID].HourlyRate, s.InitialAmountPaid)
	if err != nil {
		return clients.ScanExitResult{}, &clients.APIError{Status: http.StatusBadRequest, Message: err.Error()}
	}
	s.Status = models.StatusCompleted
	s.ExitTime = null.TimeFrom(now)
	s.TotalAmountPaid = s.InitialAmountPaid.Add(q.BalanceDue)
	b.sessions[s.ID] = s

	if b.exitOverride != nil {
		return *b.exitOverride, nil
	}
	return clients.ScanExitResult{
		TotalAmount:   decimal.NewNullDecimal(q.Fee.Total),
		InitialPaid:   decimal.NewNullDecimal(s.InitialAmountPaid),
		FinalBalance:  decimal.NewNullDecimal(q.BalanceDue),
		DurationHours: decimal.NewNullDecimal(decimal.NewFromInt(int64(q.Duration.BillableHours))),
		ExitTime:      s.ExitTime,
	}, nil
}

func (b *fakeBackend) CancelSession(ctx context.Context, id models.ID, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelCalls++
	s, ok := b.sessions[id]
	if !ok {
		return &clients.APIError{Status: http.StatusNotFound, Message: "Not found."}
	}
	if s.Status.IsTerminal() {
		return &clients.APIError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Session already %s", s.Status)}
	}
	s.Status = models.StatusCancelled
	b.sessions[id] = s
	return nil
}

func (b *fakeBackend) calls() (entry, exit, reserve, cancel int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanEntryCalls, b.scanExitCalls, b.reserveCalls, b.cancelCalls
}

func mustCalc() *fee.Calculator {
	calc, err := fee.NewCalculator(fee.DefaultPolicy())
	if err != nil {
		panic(err)
	}
	return calc
}

type fakeBookings struct {
	mu    sync.Mutex
	data  map[string]models.RecoverableBooking
	saves int
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{data: map[string]models.RecoverableBooking{}}
}

func (f *fakeBookings) Save(ctx context.Context, owner string, b models.RecoverableBooking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[owner] = b
	f.saves++
	return nil
}

func (f *fakeBookings) Load(ctx context.Context, owner string) (models.RecoverableBooking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[owner]
	if !ok {
		return models.RecoverableBooking{}, redisstore.ErrNotFound
	}
	return b, nil
}

func (f *fakeBookings) Clear(ctx context.Context, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, owner)
	return nil
}

type harness struct {
	clock    *clock.Manual
	backend  *fakeBackend
	ledger   *repository.MemoryLedger
	bookings *fakeBookings
	metrics  *metrics.Metrics
	coord    *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewManual(t0)
	h := &harness{
		clock:    clk,
		backend:  newFakeBackend(clk),
		ledger:   repository.NewMemoryLedger(),
		bookings: newFakeBookings(),
		metrics:  metrics.New(),
	}
	coord, err := NewCoordinator(Deps{
		Backend:    h.backend,
		Ledger:     h.ledger,
		Bookings:   h.bookings,
		Calculator: mustCalc(),
		Clock:      clk,
		Metrics:    h.metrics,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	h.coord = coord
	return h
}

func (h *harness) payments(t *testing.T, id models.ID) []models.Payment {
	t.Helper()
	ps, err := h.ledger.ListBySession(context.Background(), id)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	return ps
}

func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := h.metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
