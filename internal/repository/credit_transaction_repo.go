package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorpay/backend/internal/models"
)

const creditTxCols = "id, user_id, amount, kind, description, external_charge_id, created_at"

type CreditTransactionRepo struct {
	pool *pgxpool.Pool
}

func NewCreditTransactionRepo(pool *pgxpool.Pool) *CreditTransactionRepo {
	return &CreditTransactionRepo{pool: pool}
}

// Create appends a transaction row inside the given transaction.
func (r *CreditTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, kind, description, external_charge_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, t.ID, t.UserID, t.Amount, t.Kind, t.Description, t.ExternalChargeID).Scan(&t.CreatedAt)
}

// GetByExternalChargeID returns the transaction recorded for the given
// external charge id, or nil if that charge was never applied. Runs inside
// the caller's transaction so the dedup check and the insert see the same
// snapshot.
func (r *CreditTransactionRepo) GetByExternalChargeID(ctx context.Context, tx pgx.Tx, chargeID string) (*models.CreditTransaction, error) {
	var t models.CreditTransaction
	err := tx.QueryRow(ctx, `
		SELECT `+creditTxCols+` FROM credit_transactions WHERE external_charge_id = $1
	`, chargeID).Scan(&t.ID, &t.UserID, &t.Amount, &t.Kind, &t.Description, &t.ExternalChargeID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns the user's transactions most-recent-first, narrowed by the
// filter. The Before cursor plus Limit makes the listing restartable: pass
// the created_at of the last row seen to fetch the next page.
func (r *CreditTransactionRepo) List(ctx context.Context, userID uuid.UUID, f models.TransactionFilter) ([]*models.CreditTransaction, error) {
	var sb strings.Builder
	sb.WriteString("SELECT " + creditTxCols + " FROM credit_transactions WHERE user_id = $1")
	args := []any{userID}

	if f.Kind != "" {
		args = append(args, f.Kind)
		fmt.Fprintf(&sb, " AND kind = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		fmt.Fprintf(&sb, " AND created_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		fmt.Fprintf(&sb, " AND created_at <= $%d", len(args))
	}
	if f.Before != nil {
		args = append(args, *f.Before)
		fmt.Fprintf(&sb, " AND created_at < $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Kind, &t.Description, &t.ExternalChargeID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
