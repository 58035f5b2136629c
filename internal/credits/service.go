package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/creatorpay/backend/internal/models"
)

// ErrInvalidAmount is returned for zero or negative amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// ErrInvalidKind is returned for a transaction kind outside the closed set,
// or a non-spend kind on the spend path.
var ErrInvalidKind = errors.New("invalid transaction kind")

// ErrInsufficientBalance is returned when a spend exceeds the current balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// AccountRepo is the minimal credit-account store interface for the service.
type AccountRepo interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	EnsureForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.CreditAccount, error)
	ApplyCredit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*models.CreditAccount, error)
	ApplyDebit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*models.CreditAccount, error)
}

// TransactionRepo is the minimal transaction-ledger interface for the service.
type TransactionRepo interface {
	Create(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error
	GetByExternalChargeID(ctx context.Context, tx pgx.Tx, chargeID string) (*models.CreditTransaction, error)
	List(ctx context.Context, userID uuid.UUID, f models.TransactionFilter) ([]*models.CreditTransaction, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PurchaseResult reports the outcome of a purchase callback. Duplicate is
// true when the charge id had already been applied and the original result
// was returned instead of re-crediting.
type PurchaseResult struct {
	TransactionID uuid.UUID
	Balance       int64
	Duplicate     bool
}

// SpendResult reports a successful debit.
type SpendResult struct {
	TransactionID uuid.UUID
	NewBalance    int64
}

type Service interface {
	Purchase(ctx context.Context, userID uuid.UUID, amount int64, externalChargeID string) (*PurchaseResult, error)
	Spend(ctx context.Context, userID uuid.UUID, amount int64, kind models.TransactionKind, description string) (*SpendResult, error)
	AdminAdjust(ctx context.Context, userID uuid.UUID, amount int64, description string) (*SpendResult, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, f models.TransactionFilter) ([]*models.CreditTransaction, error)
	GrantConversion(ctx context.Context, tx pgx.Tx, userID uuid.UUID, credits int64, conversionID uuid.UUID) (int64, error)
}

type service struct {
	db       TxBeginner
	accounts AccountRepo
	txns     TransactionRepo
}

func NewService(db TxBeginner, accounts AccountRepo, txns TransactionRepo) *service {
	return &service{db: db, accounts: accounts, txns: txns}
}

var _ Service = (*service)(nil)

// Purchase credits the account for a completed external purchase. It is
// idempotent on externalChargeID: the dedup lookup, the account mutation,
// and the transaction insert share one database transaction, and the
// unique index on external_charge_id backstops concurrent duplicates.
func (s *service) Purchase(ctx context.Context, userID uuid.UUID, amount int64, externalChargeID string) (*PurchaseResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if externalChargeID == "" {
		return nil, fmt.Errorf("purchase: missing external charge id")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if existing, err := s.txns.GetByExternalChargeID(ctx, tx, externalChargeID); err != nil {
		return nil, err
	} else if existing != nil {
		acc, err := s.accounts.GetByUserID(ctx, existing.UserID)
		if err != nil {
			return nil, err
		}
		return &PurchaseResult{TransactionID: existing.ID, Balance: acc.Balance, Duplicate: true}, nil
	}

	if _, err := s.accounts.EnsureForUpdate(ctx, tx, userID); err != nil {
		return nil, err
	}
	acc, err := s.accounts.ApplyCredit(ctx, tx, userID, amount)
	if err != nil {
		return nil, err
	}
	t := &models.CreditTransaction{
		ID:               uuid.New(),
		UserID:           userID,
		Amount:           amount,
		Kind:             models.KindPurchase,
		Description:      fmt.Sprintf("credit package purchase (%s)", externalChargeID),
		ExternalChargeID: &externalChargeID,
	}
	if err := s.txns.Create(ctx, tx, t); err != nil {
		if isUniqueViolation(err) {
			// Lost the race against a concurrent delivery of the same
			// charge; the other transaction's result stands.
			return s.replayPurchase(ctx, externalChargeID)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &PurchaseResult{TransactionID: t.ID, Balance: acc.Balance}, nil
}

// replayPurchase re-reads the already-committed result for a charge id.
func (s *service) replayPurchase(ctx context.Context, externalChargeID string) (*PurchaseResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	existing, err := s.txns.GetByExternalChargeID(ctx, tx, externalChargeID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("purchase %s: duplicate charge not found on replay", externalChargeID)
	}
	acc, err := s.accounts.GetByUserID(ctx, existing.UserID)
	if err != nil {
		return nil, err
	}
	return &PurchaseResult{TransactionID: existing.ID, Balance: acc.Balance, Duplicate: true}, nil
}

// Spend debits the account for a user-initiated action. The balance guard
// runs inside the row-locked transaction, so concurrent spends against the
// same account cannot overdraw it.
func (s *service) Spend(ctx context.Context, userID uuid.UUID, amount int64, kind models.TransactionKind, description string) (*SpendResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !kind.IsSpend() {
		return nil, ErrInvalidKind
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.accounts.EnsureForUpdate(ctx, tx, userID); err != nil {
		return nil, err
	}
	acc, err := s.accounts.ApplyDebit(ctx, tx, userID, amount)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrInsufficientBalance
	}
	t := &models.CreditTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      -amount,
		Kind:        kind,
		Description: description,
	}
	if err := s.txns.Create(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &SpendResult{TransactionID: t.ID, NewBalance: acc.Balance}, nil
}

// AdminAdjust applies an operator correction, signed either way. Negative
// adjustments still respect the no-negative-balance guard.
func (s *service) AdminAdjust(ctx context.Context, userID uuid.UUID, amount int64, description string) (*SpendResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.accounts.EnsureForUpdate(ctx, tx, userID); err != nil {
		return nil, err
	}
	var acc *models.CreditAccount
	if amount > 0 {
		acc, err = s.accounts.ApplyCredit(ctx, tx, userID, amount)
	} else {
		acc, err = s.accounts.ApplyDebit(ctx, tx, userID, -amount)
	}
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrInsufficientBalance
	}
	t := &models.CreditTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Kind:        models.KindAdminAdjustment,
		Description: description,
	}
	if err := s.txns.Create(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &SpendResult{TransactionID: t.ID, NewBalance: acc.Balance}, nil
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	return s.accounts.GetByUserID(ctx, userID)
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, f models.TransactionFilter) ([]*models.CreditTransaction, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, ErrInvalidKind
	}
	return s.txns.List(ctx, userID, f)
}

// GrantConversion is the internal credit path used by the conversion
// service. It runs inside the caller's transaction; the caller must
// already hold the creator_earnings lock (earnings row locks before
// credit-account row locks, always).
func (s *service) GrantConversion(ctx context.Context, tx pgx.Tx, userID uuid.UUID, credits int64, conversionID uuid.UUID) (int64, error) {
	if credits <= 0 {
		return 0, ErrInvalidAmount
	}
	if _, err := s.accounts.EnsureForUpdate(ctx, tx, userID); err != nil {
		return 0, err
	}
	acc, err := s.accounts.ApplyCredit(ctx, tx, userID, credits)
	if err != nil {
		return 0, err
	}
	t := &models.CreditTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      credits,
		Kind:        models.KindConversionIn,
		Description: fmt.Sprintf("earnings conversion %s", conversionID),
	}
	if err := s.txns.Create(ctx, tx, t); err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
