package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"parkgate/backend/services/gate-service/internal/models"
)

// ErrDuplicatePayment is returned when a payment of the same kind already exists for the
// session. It is how a second settlement for one session is refused.
var ErrDuplicatePayment = errors.New("repository: payment already recorded")

const paymentsSchema = `
	CREATE TABLE IF NOT EXISTS gate_payments (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		kind        TEXT NOT NULL,
		amount      NUMERIC(12, 2) NOT NULL CHECK (amount >= 0),
		method      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (session_id, kind)
	)
`

// PaymentRepository is the postgres payment ledger.
type PaymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository returns repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// EnsureSchema creates the ledger table when missing.
func (r *PaymentRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, paymentsSchema); err != nil {
		return fmt.Errorf("repository: ensure schema: %w", err)
	}
	return nil
}

// Record inserts p. The (session_id, kind) constraint makes a repeat a no-op reported as
// ErrDuplicatePayment.
func (r *PaymentRepository) Record(ctx context.Context, p *models.Payment) error {
	const query = `
		INSERT INTO gate_payments (id, session_id, kind, amount, method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, kind) DO NOTHING
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		p.ID,
		p.SessionID,
		p.Kind,
		p.Amount,
		p.Method,
		p.CreatedAt,
	).Scan(&p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicatePayment
	}
	return err
}

// HasSettlement reports whether the session already has an exit payment.
func (r *PaymentRepository) HasSettlement(ctx context.Context, sessionID models.ID) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM gate_payments WHERE session_id = $1 AND kind = $2
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, sessionID, models.PaymentSettlement).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListBySession returns the session's payments, oldest first.
func (r *PaymentRepository) ListBySession(ctx context.Context, sessionID models.ID) ([]models.Payment, error) {
	const query = `
		SELECT id, session_id, kind, amount, method, created_at
		FROM gate_payments
		WHERE session_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(
			&p.ID,
			&p.SessionID,
			&p.Kind,
			&p.Amount,
			&p.Method,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}
