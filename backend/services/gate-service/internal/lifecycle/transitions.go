// Package lifecycle is the session state machine. It decides whether an event is legal
// for a session and applies its field changes; it never talks to the backend.
package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"parkgate/backend/services/gate-service/internal/models"
)

// StatusNone is the state of a session that does not exist yet.
const StatusNone models.Status = ""

// EventKind names what happened to a session.
type EventKind string

const (
	EvReserve EventKind = "reserve"
	EvEnter   EventKind = "enter"
	EvWalkIn  EventKind = "walk_in"
	EvExit    EventKind = "exit"
	EvCancel  EventKind = "cancel"
	EvExpire  EventKind = "expire"
)

// Event is one input to Transition.
type Event struct {
	Kind EventKind
	At   time.Time
	// Amount is the initial payment for Reserve and WalkIn, and the settled balance for Exit.
	Amount     decimal.Decimal
	Method     models.PaymentMethod
	ZoneID     models.ID
	SlotNumber string
}

// Edge is a single allowed transition.
type Edge struct {
	From  models.Status
	To    models.Status
	Event EventKind
}

var transitionsTable = []Edge{
	{From: StatusNone, To: models.StatusReserved, Event: EvReserve},
	{From: StatusNone, To: models.StatusActive, Event: EvWalkIn},

	{From: models.StatusReserved, To: models.StatusActive, Event: EvEnter},
	{From: models.StatusActive, To: models.StatusCompleted, Event: EvExit},

	{From: models.StatusReserved, To: models.StatusCancelled, Event: EvCancel},
	{From: models.StatusActive, To: models.StatusCancelled, Event: EvCancel},
	{From: models.StatusReserved, To: models.StatusCancelled, Event: EvExpire},
}

type rejection struct {
	From  models.Status
	Event EventKind
	Err   *Error
}

// Rejections that deserve a specific reason. Terminal states are handled before the table
// is consulted; anything else falls through to ErrRejected.
var rejectionsTable = []rejection{
	{From: models.StatusActive, Event: EvEnter, Err: ErrAlreadyEntered},
	{From: models.StatusActive, Event: EvWalkIn, Err: ErrAlreadyEntered},
	{From: models.StatusActive, Event: EvReserve, Err: ErrAlreadyEntered},
	{From: models.StatusActive, Event: EvExpire, Err: ErrAlreadyEntered},
	{From: models.StatusReserved, Event: EvExit, Err: ErrNotYetEntered},
	{From: models.StatusReserved, Event: EvReserve, Err: Newf(CodeRejected, "Vehicle already has an open reservation")},
	{From: models.StatusReserved, Event: EvWalkIn, Err: Newf(CodeRejected, "Vehicle has a reservation; scan it instead of a walk-in entry")},
	{From: StatusNone, Event: EvEnter, Err: ErrSessionNotFound},
	{From: StatusNone, Event: EvExit, Err: ErrSessionNotFound},
	{From: StatusNone, Event: EvCancel, Err: ErrSessionNotFound},
	{From: StatusNone, Event: EvExpire, Err: ErrSessionNotFound},
}

// EdgeFor returns the allowed transition for a state and event.
func EdgeFor(from models.Status, ev EventKind) (Edge, bool) {
	for _, e := range transitionsTable {
		if e.From == from && e.Event == ev {
			return e, true
		}
	}
	return Edge{}, false
}

// Check reports whether ev is legal for a session in state from, without applying it.
func Check(from models.Status, ev EventKind) error {
	if from.IsTerminal() {
		return ErrAlreadyClosed
	}
	if _, ok := EdgeFor(from, ev); ok {
		return nil
	}
	for _, r := range rejectionsTable {
		if r.From == from && r.Event == ev {
			return r.Err
		}
	}
	return Newf(CodeRejected, "Cannot %s a session in state %s", ev, displayStatus(from))
}

// Transition applies ev to session and returns the updated copy. The input is never
// modified, and a terminal session is returned unchanged with ErrAlreadyClosed.
func Transition(session models.Session, ev Event) (models.Session, error) {
	if err := Check(session.Status, ev.Kind); err != nil {
		return session, err
	}
	edge, _ := EdgeFor(session.Status, ev.Kind)

	next := session
	switch ev.Kind {
	case EvReserve:
		if ev.Amount.IsNegative() {
			return session, Newf(CodeInvalidRequest, "Initial payment cannot be negative")
		}
		next.BookedAt = null.TimeFrom(ev.At)
		next.InitialAmountPaid = ev.Amount
		next.TotalAmountPaid = ev.Amount
		setMethod(&next, ev.Method)
		setZone(&next, ev)
	case EvWalkIn:
		if ev.Amount.IsNegative() {
			return session, Newf(CodeInvalidRequest, "Initial payment cannot be negative")
		}
		next.EntryTime = null.TimeFrom(ev.At)
		next.InitialAmountPaid = ev.Amount
		next.TotalAmountPaid = ev.Amount
		setMethod(&next, ev.Method)
		setZone(&next, ev)
	case EvEnter:
		next.EntryTime = null.TimeFrom(ev.At)
		setZone(&next, ev)
	case EvExit:
		if !session.EntryTime.Valid || !ev.At.After(session.EntryTime.Time) {
			return session, Newf(CodeBillingError, "Exit time must be after entry time")
		}
		if ev.Amount.IsNegative() {
			return session, Newf(CodeInvalidRequest, "Balance cannot be negative")
		}
		next.ExitTime = null.TimeFrom(ev.At)
		next.TotalAmountPaid = session.InitialAmountPaid.Add(ev.Amount)
		setMethod(&next, ev.Method)
	case EvExpire:
		if !session.ReservationExpired(ev.At) {
			return session, Newf(CodeRejected, "Reservation has not expired yet")
		}
	case EvCancel:
	}
	next.Status = edge.To
	return next, nil
}

func setMethod(s *models.Session, m models.PaymentMethod) {
	if m != "" {
		s.PaymentMethod = m
	}
}

func setZone(s *models.Session, ev Event) {
	if !ev.ZoneID.IsZero() {
		s.ZoneID = ev.ZoneID
	}
	if ev.SlotNumber != "" {
		s.SlotNumber = null.StringFrom(ev.SlotNumber)
	}
}

func displayStatus(s models.Status) string {
	if s == StatusNone {
		return "NONE"
	}
	return string(s)
}
