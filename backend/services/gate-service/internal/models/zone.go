package models

import "github.com/shopspring/decimal"

// Zone is a pricing and capacity grouping of slots.
type Zone struct {
	ID            ID              `json:"id"`
	Name          string          `json:"name"`
	HourlyRate    decimal.Decimal `json:"hourly_rate"`
	TotalSlots    int             `json:"total_slots"`
	OccupiedSlots int             `json:"occupied_slots"`
}

// AvailableSlots never reports a negative count, even when the backend counters drift.
func (z Zone) AvailableSlots() int {
	free := z.TotalSlots - z.OccupiedSlots
	if free < 0 {
		return 0
	}
	return free
}

// Slot is one physical parking space.
type Slot struct {
	ID         ID     `json:"id"`
	ZoneID     ID     `json:"zone_id"`
	SlotNumber string `json:"slot_number"`
	IsOccupied bool   `json:"is_occupied"`
}
