package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorpay/backend/internal/models"
)

type ConversionRepo struct {
	pool *pgxpool.Pool
}

func NewConversionRepo(pool *pgxpool.Pool) *ConversionRepo {
	return &ConversionRepo{pool: pool}
}

// Create inserts the conversion event inside the caller's transaction, so
// the event commits together with the two balance halves it links.
func (r *ConversionRepo) Create(ctx context.Context, tx pgx.Tx, e *models.ConversionEvent) error {
	return tx.QueryRow(ctx, `
		INSERT INTO conversion_events (id, profile_id, user_id, amount_converted, credits_granted)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, e.ID, e.ProfileID, e.UserID, e.AmountConverted, e.CreditsGranted).Scan(&e.CreatedAt)
}

func (r *ConversionRepo) ListByProfileID(ctx context.Context, profileID uuid.UUID) ([]*models.ConversionEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, profile_id, user_id, amount_converted, credits_granted, created_at
		FROM conversion_events WHERE profile_id = $1 ORDER BY created_at DESC
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ConversionEvent
	for rows.Next() {
		var e models.ConversionEvent
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.UserID, &e.AmountConverted, &e.CreditsGranted, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
