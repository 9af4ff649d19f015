package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// Status is the lifecycle state of a parking session.
type Status string

// Session statuses as reported by the backend.
const (
	StatusReserved  Status = "RESERVED"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsOpen reports whether the session still occupies (or holds) a slot.
func (s Status) IsOpen() bool {
	return s == StatusReserved || s == StatusActive
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusReserved, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// PaymentMethod is how money was collected.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
	PaymentUPI  PaymentMethod = "upi"
)

// Valid reports whether m is a supported method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentUPI:
		return true
	}
	return false
}

// Session is one vehicle's occupancy record from reservation or entry to exit.
type Session struct {
	ID                ID              `json:"id"`
	VehicleNumber     string          `json:"vehicle_number"`
	VehicleType       string          `json:"vehicle_type,omitempty"`
	ZoneID            ID              `json:"zone_id"`
	SlotNumber        null.String     `json:"slot_number"`
	Status            Status          `json:"status"`
	BookedAt          null.Time       `json:"booked_at"`
	EntryTime         null.Time       `json:"entry_time"`
	ExitTime          null.Time       `json:"exit_time"`
	BookingExpiryTime null.Time       `json:"booking_expiry_time"`
	InitialAmountPaid decimal.Decimal `json:"initial_amount_paid"`
	TotalAmountPaid   decimal.Decimal `json:"total_amount_paid"`
	PaymentMethod     PaymentMethod   `json:"payment_method,omitempty"`
}

// NormalizedVehicleNumber returns the comparison form of the plate.
func (s Session) NormalizedVehicleNumber() string {
	return NormalizeVehicleNumber(s.VehicleNumber)
}

// BalanceDue is what was collected at exit on top of the initial payment.
func (s Session) BalanceDue() decimal.Decimal {
	return s.TotalAmountPaid.Sub(s.InitialAmountPaid)
}

// ReservationExpired reports whether a reserved session passed its booking deadline
// without a physical entry.
func (s Session) ReservationExpired(now time.Time) bool {
	if s.Status != StatusReserved || !s.BookingExpiryTime.Valid || s.EntryTime.Valid {
		return false
	}
	return !now.Before(s.BookingExpiryTime.Time)
}

// RecencyKey orders sessions for "most recent" lookups: entry time when known,
// otherwise the booking time.
func (s Session) RecencyKey() time.Time {
	if s.EntryTime.Valid {
		return s.EntryTime.Time
	}
	if s.BookedAt.Valid {
		return s.BookedAt.Time
	}
	return time.Time{}
}
