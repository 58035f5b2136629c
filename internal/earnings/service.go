package earnings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/creatorpay/backend/internal/models"
)

// ErrInvalidAmount is returned when a charge's amounts don't form a valid split.
var ErrInvalidAmount = errors.New("invalid amount")

// ErrPaymentNotFound is returned when a reversal names an unknown charge id.
var ErrPaymentNotFound = errors.New("payment not found")

// ErrIrreversibleState is returned when a reversal would drive the pending
// balance negative, i.e. the creator share already left via payout or
// conversion. Surfaced to an operator, never applied partially.
var ErrIrreversibleState = errors.New("accrual cannot be reversed without violating ledger invariants")

// Repo is the minimal creator-earnings store interface for the service.
type Repo interface {
	GetByProfileID(ctx context.Context, profileID uuid.UUID) (*models.CreatorEarnings, error)
	EnsureForUpdate(ctx context.Context, tx pgx.Tx, profileID uuid.UUID) (*models.CreatorEarnings, error)
	ApplyAccrual(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, gross, fee, creator int64) (*models.CreatorEarnings, error)
	ReverseAccrual(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, gross, fee, creator int64) (*models.CreatorEarnings, error)
}

// PaymentRepo is the dedup ledger for external subscription charges.
type PaymentRepo interface {
	Create(ctx context.Context, tx pgx.Tx, p *models.SubscriptionPayment) error
	Get(ctx context.Context, tx pgx.Tx, id string) (*models.SubscriptionPayment, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.SubscriptionPayment, error)
	MarkReversed(ctx context.Context, tx pgx.Tx, id, reason string) error
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Accrual carries one settled external subscription charge.
type Accrual struct {
	ExternalChargeID string
	SubscriptionID   uuid.UUID
	ProfileID        uuid.UUID
	GrossAmount      int64
	CreatorAmount    int64
}

// AccrualResult reports the post-accrual snapshot. Duplicate is true when
// the charge id had already been applied.
type AccrualResult struct {
	Earnings  *models.CreatorEarnings
	Duplicate bool
}

type Service interface {
	AccrueFromPayment(ctx context.Context, a Accrual) (*AccrualResult, error)
	GetEarnings(ctx context.Context, profileID uuid.UUID) (*models.CreatorEarnings, error)
	AdjustForRefundOrReversal(ctx context.Context, externalChargeID, reason string) (*models.CreatorEarnings, error)
}

type service struct {
	db       TxBeginner
	earnings Repo
	payments PaymentRepo
	log      *slog.Logger
}

func NewService(db TxBeginner, earnings Repo, payments PaymentRepo, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{db: db, earnings: earnings, payments: payments, log: log}
}

var _ Service = (*service)(nil)

// AccrueFromPayment applies one settled charge to the profile's earnings.
// The subscription_payments row is the idempotency ledger: if the charge id
// is already present, the recorded result is returned and nothing is
// re-applied. Insert, accrual, and dedup check share one transaction, and
// the primary key on the charge id backstops concurrent duplicates.
func (s *service) AccrueFromPayment(ctx context.Context, a Accrual) (*AccrualResult, error) {
	if a.GrossAmount <= 0 || a.CreatorAmount < 0 || a.CreatorAmount > a.GrossAmount {
		return nil, ErrInvalidAmount
	}
	if a.ExternalChargeID == "" {
		return nil, fmt.Errorf("accrual: missing external charge id")
	}
	fee := a.GrossAmount - a.CreatorAmount

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if existing, err := s.payments.Get(ctx, tx, a.ExternalChargeID); err != nil {
		return nil, err
	} else if existing != nil {
		e, err := s.earnings.GetByProfileID(ctx, existing.ProfileID)
		if err != nil {
			return nil, err
		}
		return &AccrualResult{Earnings: e, Duplicate: true}, nil
	}

	if _, err := s.earnings.EnsureForUpdate(ctx, tx, a.ProfileID); err != nil {
		return nil, err
	}
	e, err := s.earnings.ApplyAccrual(ctx, tx, a.ProfileID, a.GrossAmount, fee, a.CreatorAmount)
	if err != nil {
		return nil, err
	}
	p := &models.SubscriptionPayment{
		ID:             a.ExternalChargeID,
		SubscriptionID: a.SubscriptionID,
		ProfileID:      a.ProfileID,
		GrossAmount:    a.GrossAmount,
		CreatorAmount:  a.CreatorAmount,
		PlatformFee:    fee,
		Status:         models.PaymentStatusPaid,
	}
	if err := s.payments.Create(ctx, tx, p); err != nil {
		if isUniqueViolation(err) {
			// Concurrent delivery of the same charge won; return its result.
			return s.replayAccrual(ctx, a.ExternalChargeID)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &AccrualResult{Earnings: e}, nil
}

func (s *service) replayAccrual(ctx context.Context, externalChargeID string) (*AccrualResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	existing, err := s.payments.Get(ctx, tx, externalChargeID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("accrual %s: duplicate charge not found on replay", externalChargeID)
	}
	e, err := s.earnings.GetByProfileID(ctx, existing.ProfileID)
	if err != nil {
		return nil, err
	}
	return &AccrualResult{Earnings: e, Duplicate: true}, nil
}

func (s *service) GetEarnings(ctx context.Context, profileID uuid.UUID) (*models.CreatorEarnings, error) {
	return s.earnings.GetByProfileID(ctx, profileID)
}

// AdjustForRefundOrReversal undoes one accrual after a chargeback,
// symmetrically decrementing the three fields it incremented. If the
// creator share is no longer in the pending pool the reversal is rejected
// with ErrIrreversibleState and logged for operator attention; the ledger
// is never forced negative and never partially adjusted.
func (s *service) AdjustForRefundOrReversal(ctx context.Context, externalChargeID, reason string) (*models.CreatorEarnings, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	p, err := s.payments.GetForUpdate(ctx, tx, externalChargeID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPaymentNotFound
	}
	if p.Status == models.PaymentStatusReversed {
		// Duplicate reversal delivery; the first one stands.
		return s.earnings.GetByProfileID(ctx, p.ProfileID)
	}

	if _, err := s.earnings.EnsureForUpdate(ctx, tx, p.ProfileID); err != nil {
		return nil, err
	}
	e, err := s.earnings.ReverseAccrual(ctx, tx, p.ProfileID, p.GrossAmount, p.PlatformFee, p.CreatorAmount)
	if err != nil {
		return nil, err
	}
	if e == nil {
		s.log.Error("accrual reversal rejected: creator share already withdrawn or converted",
			"external_charge_id", externalChargeID, "profile_id", p.ProfileID, "creator_amount", p.CreatorAmount, "reason", reason)
		return nil, ErrIrreversibleState
	}
	if err := s.payments.MarkReversed(ctx, tx, externalChargeID, reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
