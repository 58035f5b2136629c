package conversion

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/creatorpay/backend/internal/models"
)

// CentsPerCredit is the fixed conversion rate: one whole credit per 100
// cents of earnings. Credits are integral, so the grant is floored and the
// sub-credit remainder is forfeited. Deliberate rounding rule, not a bug:
// carrying fractional remainders would turn the ledger into an
// unbounded-precision accumulator.
const CentsPerCredit = 100

// ErrInvalidAmount is returned for non-positive amounts and for amounts
// below one whole credit (which would forfeit everything).
var ErrInvalidAmount = errors.New("invalid conversion amount")

// ErrInsufficientEarnings is returned when the withdrawable pool does not
// cover the requested amount.
var ErrInsufficientEarnings = errors.New("insufficient earnings")

// EarningsStore is the minimal creator-earnings interface for conversion.
type EarningsStore interface {
	EnsureForUpdate(ctx context.Context, tx pgx.Tx, profileID uuid.UUID) (*models.CreatorEarnings, error)
	DeductPendingForConversion(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, amount int64) (*models.CreatorEarnings, error)
}

// CreditGranter is the credit-account half of the transfer, provided by
// the credits service.
type CreditGranter interface {
	GrantConversion(ctx context.Context, tx pgx.Tx, userID uuid.UUID, credits int64, conversionID uuid.UUID) (int64, error)
}

// EventRepo records the immutable link between the two halves.
type EventRepo interface {
	Create(ctx context.Context, tx pgx.Tx, e *models.ConversionEvent) error
	ListByProfileID(ctx context.Context, profileID uuid.UUID) ([]*models.ConversionEvent, error)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Result reports a completed conversion.
type Result struct {
	EventID          uuid.UUID
	CreditsGranted   int64
	NewPendingPayout int64
	NewCreditBalance int64
}

type Service interface {
	Convert(ctx context.Context, profileID, userID uuid.UUID, amount int64) (*Result, error)
	ListEvents(ctx context.Context, profileID uuid.UUID) ([]*models.ConversionEvent, error)
}

type service struct {
	db       TxBeginner
	earnings EarningsStore
	credits  CreditGranter
	events   EventRepo
}

func NewService(db TxBeginner, earnings EarningsStore, credits CreditGranter, events EventRepo) *service {
	return &service{db: db, earnings: earnings, credits: credits, events: events}
}

var _ Service = (*service)(nil)

// Convert atomically moves amount cents out of the profile's withdrawable
// pool and grants floor(amount/CentsPerCredit) credits to the owning
// user's credit account. Both halves and the linking event commit in one
// transaction; a failure anywhere rolls everything back. Lock order is
// fixed: the earnings row first, the credit account second.
//
// The caller context has already asserted that userID owns profileID;
// this service trusts that binding.
func (s *service) Convert(ctx context.Context, profileID, userID uuid.UUID, amount int64) (*Result, error) {
	if amount < CentsPerCredit {
		return nil, ErrInvalidAmount
	}
	credits := amount / CentsPerCredit

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.earnings.EnsureForUpdate(ctx, tx, profileID); err != nil {
		return nil, err
	}
	e, err := s.earnings.DeductPendingForConversion(ctx, tx, profileID, amount)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrInsufficientEarnings
	}

	event := &models.ConversionEvent{
		ID:              uuid.New(),
		ProfileID:       profileID,
		UserID:          userID,
		AmountConverted: amount,
		CreditsGranted:  credits,
	}
	if err := s.events.Create(ctx, tx, event); err != nil {
		return nil, err
	}

	newBalance, err := s.credits.GrantConversion(ctx, tx, userID, credits, event.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &Result{
		EventID:          event.ID,
		CreditsGranted:   credits,
		NewPendingPayout: e.PendingPayout,
		NewCreditBalance: newBalance,
	}, nil
}

func (s *service) ListEvents(ctx context.Context, profileID uuid.UUID) ([]*models.ConversionEvent, error) {
	return s.events.ListByProfileID(ctx, profileID)
}
