package handlers

import (
	"context"

	"parkgate/backend/services/gate-service/internal/fee"
	"parkgate/backend/services/gate-service/internal/models"
	"parkgate/backend/services/gate-service/internal/service"
)

// Coordinator is the part of service.Coordinator the HTTP surface drives.
type Coordinator interface {
	Reserve(ctx context.Context, in service.ReserveInput) (service.ReserveResult, error)
	RecoverBooking(ctx context.Context, owner string) (service.RecoveredBooking, error)
	Enter(ctx context.Context, in service.EntryInput) (service.EntryResult, error)
	Exit(ctx context.Context, in service.ExitInput) (service.ExitResult, error)
	QuoteExit(ctx context.Context, ref service.Reference) (models.Session, fee.Quote, error)
	Cancel(ctx context.Context, in service.CancelInput) (models.Session, error)
	FindActiveSession(ctx context.Context, vehicleNumber string) (models.Session, error)
	ZoneAvailability(ctx context.Context, zoneID models.ID) (service.Availability, error)
	Receipt(ctx context.Context, sessionID models.ID) (service.Receipt, error)
	Policy() fee.Policy
}
