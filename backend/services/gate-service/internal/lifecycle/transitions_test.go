package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"parkgate/backend/services/gate-service/internal/models"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func activeSession() models.Session {
	return models.Session{
		ID:                "7",
		VehicleNumber:     "DL01AB1234",
		ZoneID:            "1",
		Status:            models.StatusActive,
		EntryTime:         null.TimeFrom(t0),
		InitialAmountPaid: decimal.NewFromInt(30),
		TotalAmountPaid:   decimal.NewFromInt(30),
	}
}

func TestTransitionHappyPath(t *testing.T) {
	s, err := Transition(models.Session{VehicleNumber: "DL01AB1234"}, Event{
		Kind: EvReserve, At: t0, Amount: decimal.NewFromInt(30), Method: models.PaymentUPI, ZoneID: "1",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if s.Status != models.StatusReserved || !s.BookedAt.Valid || !s.InitialAmountPaid.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected reserved session %+v", s)
	}

	s, err = Transition(s, Event{Kind: EvEnter, At: t0.Add(10 * time.Minute), SlotNumber: "A-4"})
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if s.Status != models.StatusActive || !s.EntryTime.Valid || s.SlotNumber.String != "A-4" {
		t.Fatalf("unexpected active session %+v", s)
	}

	s, err = Transition(s, Event{Kind: EvExit, At: t0.Add(140 * time.Minute), Amount: decimal.NewFromInt(76), Method: models.PaymentCash})
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if s.Status != models.StatusCompleted || !s.ExitTime.Valid {
		t.Fatalf("unexpected completed session %+v", s)
	}
	if !s.TotalAmountPaid.Equal(decimal.NewFromInt(106)) || !s.BalanceDue().Equal(decimal.NewFromInt(76)) {
		t.Fatalf("total %s balance %s, want 106 and 76", s.TotalAmountPaid, s.BalanceDue())
	}
	if s.PaymentMethod != models.PaymentCash {
		t.Fatalf("expected payment method to follow the settlement, got %s", s.PaymentMethod)
	}
}

func TestWalkInSkipsReservation(t *testing.T) {
	s, err := Transition(models.Session{VehicleNumber: "KA05MH9"}, Event{Kind: EvWalkIn, At: t0, Amount: decimal.NewFromInt(30)})
	if err != nil {
		t.Fatalf("walk in: %v", err)
	}
	if s.Status != models.StatusActive || !s.EntryTime.Time.Equal(t0) || s.BookedAt.Valid {
		t.Fatalf("unexpected walk-in session %+v", s)
	}
}

func TestTransitionRejections(t *testing.T) {
	reserved := models.Session{ID: "3", Status: models.StatusReserved}
	completed := activeSession()
	completed.Status = models.StatusCompleted
	cancelled := activeSession()
	cancelled.Status = models.StatusCancelled

	tests := []struct {
		name    string
		session models.Session
		event   EventKind
		want    error
	}{
		{name: "re-entry", session: activeSession(), event: EvEnter, want: ErrAlreadyEntered},
		{name: "walk-in while parked", session: activeSession(), event: EvWalkIn, want: ErrAlreadyEntered},
		{name: "second exit", session: completed, event: EvExit, want: ErrAlreadyClosed},
		{name: "entry after exit", session: completed, event: EvEnter, want: ErrAlreadyClosed},
		{name: "cancel after exit", session: completed, event: EvCancel, want: ErrAlreadyClosed},
		{name: "exit after cancel", session: cancelled, event: EvExit, want: ErrAlreadyClosed},
		{name: "exit before entry", session: reserved, event: EvExit, want: ErrNotYetEntered},
		{name: "double reservation", session: reserved, event: EvReserve, want: ErrRejected},
		{name: "unknown session exit", session: models.Session{}, event: EvExit, want: ErrSessionNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transition(tc.session, Event{Kind: tc.event, At: t0.Add(time.Hour)})
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
			if got.Status != tc.session.Status || got.ExitTime != tc.session.ExitTime {
				t.Fatalf("rejected transition mutated the session: %+v", got)
			}
			le, ok := As(err)
			if !ok || le.Message == "" {
				t.Fatalf("expected a lifecycle error with a message, got %v", err)
			}
		})
	}
}

func TestActiveCanOnlyReachCompletedOrCancelled(t *testing.T) {
	kinds := []EventKind{EvReserve, EvEnter, EvWalkIn, EvExit, EvCancel, EvExpire}
	for _, k := range kinds {
		s, err := Transition(activeSession(), Event{Kind: k, At: t0.Add(time.Hour)})
		if err != nil {
			continue
		}
		if s.Status != models.StatusCompleted && s.Status != models.StatusCancelled {
			t.Fatalf("event %s moved ACTIVE to %s", k, s.Status)
		}
	}
}

func TestExitRequiresLaterTimestamp(t *testing.T) {
	_, err := Transition(activeSession(), Event{Kind: EvExit, At: t0})
	if !errors.Is(err, ErrBilling) {
		t.Fatalf("expected billing error for exit at entry time, got %v", err)
	}
}

func TestExpireOnlyAfterDeadline(t *testing.T) {
	s := models.Session{
		ID:                "9",
		Status:            models.StatusReserved,
		BookedAt:          null.TimeFrom(t0),
		BookingExpiryTime: null.TimeFrom(t0.Add(30 * time.Minute)),
	}
	if _, err := Transition(s, Event{Kind: EvExpire, At: t0.Add(10 * time.Minute)}); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected early expiry to be rejected, got %v", err)
	}
	got, err := Transition(s, Event{Kind: EvExpire, At: t0.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Newf(CodeAlreadyClosed, "Session %s was settled at 12:40", "7")
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatal("expected code match")
	}
	if errors.Is(err, ErrAlreadyEntered) {
		t.Fatal("unexpected match across codes")
	}
	wrapped := Wrap(CodeServiceUnavailable, "backend down", errors.New("dial tcp: refused"))
	if !wrapped.Retryable() || wrapped.Cause() == nil {
		t.Fatalf("expected retryable error with cause, got %+v", wrapped)
	}
}

func TestParseMode(t *testing.T) {
	for raw, want := range map[string]Mode{"": ModeManual, "manual": ModeManual, " qr ": ModeQR, "QR": ModeQR} {
		got, err := ParseMode(raw)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %s, %v; want %s", raw, got, err, want)
		}
	}
	if _, err := ParseMode("camera"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}
