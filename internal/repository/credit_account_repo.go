package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorpay/backend/internal/models"
)

const creditAccountCols = "user_id, balance, lifetime_credited, lifetime_debited, created_at, updated_at"

type CreditAccountRepo struct {
	pool *pgxpool.Pool
}

func NewCreditAccountRepo(pool *pgxpool.Pool) *CreditAccountRepo {
	return &CreditAccountRepo{pool: pool}
}

func (r *CreditAccountRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// GetByUserID returns the account, or a zero-balance snapshot if the user
// has no account row yet (accounts are created lazily on first mutation).
func (r *CreditAccountRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	var a models.CreditAccount
	err := r.pool.QueryRow(ctx, `
		SELECT `+creditAccountCols+` FROM credit_accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.Balance, &a.LifetimeCredited, &a.LifetimeDebited, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.CreditAccount{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// EnsureForUpdate creates the account row if missing, then locks it.
// Call within a transaction.
func (r *CreditAccountRepo) EnsureForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.CreditAccount, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, err
	}
	var a models.CreditAccount
	err := tx.QueryRow(ctx, `
		SELECT `+creditAccountCols+` FROM credit_accounts WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&a.UserID, &a.Balance, &a.LifetimeCredited, &a.LifetimeDebited, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ApplyCredit adds amount to the balance and lifetime_credited. Call after
// EnsureForUpdate in the same transaction.
func (r *CreditAccountRepo) ApplyCredit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*models.CreditAccount, error) {
	var a models.CreditAccount
	err := tx.QueryRow(ctx, `
		UPDATE credit_accounts
		SET balance = balance + $1, lifetime_credited = lifetime_credited + $1, updated_at = now()
		WHERE user_id = $2
		RETURNING `+creditAccountCols+`
	`, amount, userID).Scan(&a.UserID, &a.Balance, &a.LifetimeCredited, &a.LifetimeDebited, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ApplyDebit atomically deducts amount if the balance covers it. Returns
// nil (no error) when the guard fails so callers can map it to their own
// insufficient-balance error.
func (r *CreditAccountRepo) ApplyDebit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*models.CreditAccount, error) {
	var a models.CreditAccount
	err := tx.QueryRow(ctx, `
		UPDATE credit_accounts
		SET balance = balance - $1, lifetime_debited = lifetime_debited + $1, updated_at = now()
		WHERE user_id = $2 AND balance >= $1
		RETURNING `+creditAccountCols+`
	`, amount, userID).Scan(&a.UserID, &a.Balance, &a.LifetimeCredited, &a.LifetimeDebited, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
