package repository

import (
	"context"
	"sort"
	"sync"

	"parkgate/backend/services/gate-service/internal/models"
)

// MemoryLedger keeps payments in process. It backs deployments without a database and
// enforces the same one-payment-per-kind rule as the postgres ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	payments map[models.ID][]models.Payment
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{payments: map[models.ID][]models.Payment{}}
}

// Record stores p unless the session already has a payment of that kind.
func (l *MemoryLedger) Record(ctx context.Context, p *models.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.payments[p.SessionID] {
		if existing.Kind == p.Kind {
			return ErrDuplicatePayment
		}
	}
	l.payments[p.SessionID] = append(l.payments[p.SessionID], *p)
	return nil
}

// HasSettlement reports whether the session already has an exit payment.
func (l *MemoryLedger) HasSettlement(ctx context.Context, sessionID models.ID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.payments[sessionID] {
		if p.Kind == models.PaymentSettlement {
			return true, nil
		}
	}
	return false, nil
}

// ListBySession returns a copy of the session's payments, oldest first.
func (l *MemoryLedger) ListBySession(ctx context.Context, sessionID models.ID) ([]models.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]models.Payment(nil), l.payments[sessionID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
