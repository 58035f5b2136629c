package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorpay/backend/internal/models"
)

const paymentCols = "id, subscription_id, profile_id, gross_amount, creator_amount, platform_fee, status, reversal_reason, created_at"

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

func scanPayment(row pgx.Row) (*models.SubscriptionPayment, error) {
	var p models.SubscriptionPayment
	err := row.Scan(&p.ID, &p.SubscriptionID, &p.ProfileID, &p.GrossAmount, &p.CreatorAmount,
		&p.PlatformFee, &p.Status, &p.ReversalReason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts the payment row inside the caller's transaction. The
// primary key is the external charge id, so a concurrent duplicate
// delivery surfaces as a unique violation.
func (r *PaymentRepo) Create(ctx context.Context, tx pgx.Tx, p *models.SubscriptionPayment) error {
	return tx.QueryRow(ctx, `
		INSERT INTO subscription_payments (id, subscription_id, profile_id, gross_amount, creator_amount, platform_fee, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, p.ID, p.SubscriptionID, p.ProfileID, p.GrossAmount, p.CreatorAmount, p.PlatformFee, p.Status).Scan(&p.CreatedAt)
}

// Get returns the payment for the given external charge id, or nil if that
// charge has never been accrued. Runs inside the caller's transaction.
func (r *PaymentRepo) Get(ctx context.Context, tx pgx.Tx, id string) (*models.SubscriptionPayment, error) {
	p, err := scanPayment(tx.QueryRow(ctx, `
		SELECT `+paymentCols+` FROM subscription_payments WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetForUpdate locks the payment row. Returns nil if it does not exist.
func (r *PaymentRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.SubscriptionPayment, error) {
	p, err := scanPayment(tx.QueryRow(ctx, `
		SELECT `+paymentCols+` FROM subscription_payments WHERE id = $1 FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// MarkReversed flips the payment to reversed with the operator-supplied reason.
func (r *PaymentRepo) MarkReversed(ctx context.Context, tx pgx.Tx, id, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE subscription_payments SET status = $2, reversal_reason = $3 WHERE id = $1
	`, id, models.PaymentStatusReversed, reason)
	return err
}

// ListByProfileID returns payments for a profile most-recent-first within
// the optional date range.
func (r *PaymentRepo) ListByProfileID(ctx context.Context, profileID uuid.UUID, from, to *time.Time) ([]*models.SubscriptionPayment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentCols+` FROM subscription_payments
		WHERE profile_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC
	`, profileID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.SubscriptionPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
