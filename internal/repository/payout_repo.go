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

const payoutCols = "id, profile_id, amount, destination_key, status, failure_reason, requested_at, processing_at, resolved_at"

type PayoutRepo struct {
	pool *pgxpool.Pool
}

func NewPayoutRepo(pool *pgxpool.Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

func (r *PayoutRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanPayout(row pgx.Row) (*models.PayoutRequest, error) {
	var p models.PayoutRequest
	err := row.Scan(&p.ID, &p.ProfileID, &p.Amount, &p.DestinationKey, &p.Status,
		&p.FailureReason, &p.RequestedAt, &p.ProcessingAt, &p.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts the payout request inside the caller's transaction, so the
// request row commits together with the reservation it represents.
func (r *PayoutRepo) Create(ctx context.Context, tx pgx.Tx, p *models.PayoutRequest) error {
	return tx.QueryRow(ctx, `
		INSERT INTO payout_requests (id, profile_id, amount, destination_key, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING requested_at
	`, p.ID, p.ProfileID, p.Amount, p.DestinationKey, p.Status).Scan(&p.RequestedAt)
}

func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	p, err := scanPayout(r.pool.QueryRow(ctx, `
		SELECT `+payoutCols+` FROM payout_requests WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetForUpdate locks the payout row so state transitions serialize.
// Returns nil if it does not exist.
func (r *PayoutRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PayoutRequest, error) {
	p, err := scanPayout(tx.QueryRow(ctx, `
		SELECT `+payoutCols+` FROM payout_requests WHERE id = $1 FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// Transition moves the payout from one live state to another, stamping
// processing_at when the payout enters processing (the staleness clock
// starts at dispatch, not at request time). Reports false when the row was
// not in the expected state, which makes duplicate callbacks harmless.
func (r *PayoutRepo) Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payout_requests
		SET status = $3,
		    processing_at = CASE WHEN $3 = 'processing' THEN now() ELSE processing_at END
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Resolve stamps a terminal state. failureReason may be empty for paid.
func (r *PayoutRepo) Resolve(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, failureReason string) error {
	var reason *string
	if failureReason != "" {
		reason = &failureReason
	}
	_, err := tx.Exec(ctx, `
		UPDATE payout_requests SET status = $2, failure_reason = $3, resolved_at = now() WHERE id = $1
	`, id, status, reason)
	return err
}

func (r *PayoutRepo) ListByProfileID(ctx context.Context, profileID uuid.UUID, from, to *time.Time) ([]*models.PayoutRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+payoutCols+` FROM payout_requests
		WHERE profile_id = $1
		  AND ($2::timestamptz IS NULL OR requested_at >= $2)
		  AND ($3::timestamptz IS NULL OR requested_at <= $3)
		ORDER BY requested_at DESC
	`, profileID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// ListStaleProcessing returns ids of payouts stuck in processing since
// before the cutoff, measured from when they entered processing. A payout
// that waited a long time in requested (dispatch backlog) but was only just
// handed to the rail is not stale.
func (r *PayoutRepo) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM payout_requests WHERE status = $1 AND processing_at < $2
	`, models.PayoutStatusProcessing, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
