package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentKind separates the entry-time partial payment from the exit settlement.
type PaymentKind string

const (
	PaymentInitial    PaymentKind = "initial"
	PaymentSettlement PaymentKind = "settlement"
)

// Payment records one money movement against a session. It is never mutated once written.
type Payment struct {
	ID        string          `db:"id" json:"id"`
	SessionID ID              `db:"session_id" json:"session_id"`
	Kind      PaymentKind     `db:"kind" json:"kind"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Method    PaymentMethod   `db:"method" json:"method"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// RecoverableBooking is the guest's most recent in-progress booking, cached so it can be
// shown again after a reload. It is advisory only and must be re-checked against the backend.
type RecoverableBooking struct {
	BookingID      string          `json:"bookingId"`
	VehicleNumber  string          `json:"vehicleNumber"`
	QRCode         string          `json:"qrCode"`
	ZoneID         string          `json:"zoneId,omitempty"`
	InitialAmount  decimal.Decimal `json:"initialAmount"`
	EstimatedTotal decimal.Decimal `json:"estimatedTotal"`
	Status         Status          `json:"status"`
	SavedAt        time.Time       `json:"savedAt"`
}

// Complete reports whether every field needed to show the booking is present.
func (b RecoverableBooking) Complete() bool {
	return b.BookingID != "" && b.VehicleNumber != "" && b.QRCode != "" && b.Status.Valid()
}
