package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorpay/backend/internal/models"
)

const earningsCols = "profile_id, total_earned, platform_fee_total, pending_payout, reserved_payout, paid_out, converted_total, last_payout_date, created_at, updated_at"

type EarningsRepo struct {
	pool *pgxpool.Pool
}

func NewEarningsRepo(pool *pgxpool.Pool) *EarningsRepo {
	return &EarningsRepo{pool: pool}
}

func (r *EarningsRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanEarnings(row pgx.Row) (*models.CreatorEarnings, error) {
	var e models.CreatorEarnings
	err := row.Scan(&e.ProfileID, &e.TotalEarned, &e.PlatformFeeTotal, &e.PendingPayout,
		&e.ReservedPayout, &e.PaidOut, &e.ConvertedTotal, &e.LastPayoutDate, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetByProfileID returns the earnings row, or an all-zero snapshot if the
// profile has never accrued anything.
func (r *EarningsRepo) GetByProfileID(ctx context.Context, profileID uuid.UUID) (*models.CreatorEarnings, error) {
	e, err := scanEarnings(r.pool.QueryRow(ctx, `
		SELECT `+earningsCols+` FROM creator_earnings WHERE profile_id = $1
	`, profileID))
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.CreatorEarnings{ProfileID: profileID}, nil
	}
	return e, err
}

// EnsureForUpdate creates the earnings row if missing, then locks it.
// Call within a transaction. Lock ordering rule: operations touching both
// a creator_earnings row and a credit_accounts row must lock the earnings
// row first.
func (r *EarningsRepo) EnsureForUpdate(ctx context.Context, tx pgx.Tx, profileID uuid.UUID) (*models.CreatorEarnings, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO creator_earnings (profile_id) VALUES ($1) ON CONFLICT (profile_id) DO NOTHING
	`, profileID); err != nil {
		return nil, err
	}
	return scanEarnings(tx.QueryRow(ctx, `
		SELECT `+earningsCols+` FROM creator_earnings WHERE profile_id = $1 FOR UPDATE
	`, profileID))
}

// ApplyAccrual distributes one settled charge: gross into total_earned,
// split between platform_fee_total and pending_payout.
func (r *EarningsRepo) ApplyAccrual(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, gross, fee, creator int64) (*models.CreatorEarnings, error) {
	return scanEarnings(tx.QueryRow(ctx, `
		UPDATE creator_earnings
		SET total_earned = total_earned + $1,
		    platform_fee_total = platform_fee_total + $2,
		    pending_payout = pending_payout + $3,
		    updated_at = now()
		WHERE profile_id = $4
		RETURNING `+earningsCols+`
	`, gross, fee, creator, profileID))
}

// ReverseAccrual symmetrically undoes ApplyAccrual. The guard fails (nil,
// nil) when pending_payout no longer covers the creator share, i.e. the
// funds already left via payout or conversion.
func (r *EarningsRepo) ReverseAccrual(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, gross, fee, creator int64) (*models.CreatorEarnings, error) {
	e, err := scanEarnings(tx.QueryRow(ctx, `
		UPDATE creator_earnings
		SET total_earned = total_earned - $1,
		    platform_fee_total = platform_fee_total - $2,
		    pending_payout = pending_payout - $3,
		    updated_at = now()
		WHERE profile_id = $4 AND pending_payout >= $3 AND platform_fee_total >= $2 AND total_earned >= $1
		RETURNING `+earningsCols+`
	`, gross, fee, creator, profileID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// DeductPendingForConversion moves amount out of the withdrawable pool into
// converted_total. Returns nil when pending_payout does not cover amount.
func (r *EarningsRepo) DeductPendingForConversion(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, amount int64) (*models.CreatorEarnings, error) {
	e, err := scanEarnings(tx.QueryRow(ctx, `
		UPDATE creator_earnings
		SET pending_payout = pending_payout - $1,
		    converted_total = converted_total + $1,
		    updated_at = now()
		WHERE profile_id = $2 AND pending_payout >= $1
		RETURNING `+earningsCols+`
	`, amount, profileID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ReservePayout moves amount from pending_payout to reserved_payout,
// removing it from the withdrawable pool while the payout is in flight.
// Returns nil when pending_payout does not cover amount.
func (r *EarningsRepo) ReservePayout(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, amount int64) (*models.CreatorEarnings, error) {
	e, err := scanEarnings(tx.QueryRow(ctx, `
		UPDATE creator_earnings
		SET pending_payout = pending_payout - $1,
		    reserved_payout = reserved_payout + $1,
		    updated_at = now()
		WHERE profile_id = $2 AND pending_payout >= $1
		RETURNING `+earningsCols+`
	`, amount, profileID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ReleaseReservation is the compensating move for a failed or cancelled
// payout: reserved funds return to the withdrawable pool.
func (r *EarningsRepo) ReleaseReservation(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, amount int64) (*models.CreatorEarnings, error) {
	return scanEarnings(tx.QueryRow(ctx, `
		UPDATE creator_earnings
		SET reserved_payout = reserved_payout - $1,
		    pending_payout = pending_payout + $1,
		    updated_at = now()
		WHERE profile_id = $2 AND reserved_payout >= $1
		RETURNING `+earningsCols+`
	`, amount, profileID))
}

// SettleReservation finalizes a paid payout: reserved funds become
// paid_out and last_payout_date is stamped.
func (r *EarningsRepo) SettleReservation(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, amount int64) (*models.CreatorEarnings, error) {
	return scanEarnings(tx.QueryRow(ctx, `
		UPDATE creator_earnings
		SET reserved_payout = reserved_payout - $1,
		    paid_out = paid_out + $1,
		    last_payout_date = now(),
		    updated_at = now()
		WHERE profile_id = $2 AND reserved_payout >= $1
		RETURNING `+earningsCols+`
	`, amount, profileID))
}
