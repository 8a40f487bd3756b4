package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetBySessionID(ctx context.Context, sessionID string) (*Payment, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*Payment, error)
	GetLatestByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, intentID string) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const paymentColumns = `id, order_id, provider, session_id, COALESCE(payment_intent_id, ''), amount, currency, status, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Provider, &p.SessionID, &p.PaymentIntentID, &p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to scan payment: %w", err)
	}
	return &p, nil
}

func (r *postgresRepository) Create(ctx context.Context, p *Payment) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate payment ID: %w", err)
	}
	now := time.Now().UTC()
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Provider == "" {
		p.Provider = ProviderStripe
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO payments (id, order_id, provider, session_id, payment_intent_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)`,
		p.ID, p.OrderID, p.Provider, p.SessionID, p.PaymentIntentID, p.Amount, p.Currency, string(p.Status), now, now,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert payment for order %s: %w", p.OrderID, err)
	}
	return nil
}

func (r *postgresRepository) GetBySessionID(ctx context.Context, sessionID string) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE session_id = $1`, sessionID))
}

func (r *postgresRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE payment_intent_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, intentID))
}

func (r *postgresRepository) GetLatestByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, orderID))
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, intentID string) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE payments
		SET status = $1, payment_intent_id = COALESCE(NULLIF($2, ''), payment_intent_id), updated_at = NOW()
		WHERE id = $3`, string(status), intentID, id)
	if err != nil {
		return fmt.Errorf("repository: failed to update payment %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}
