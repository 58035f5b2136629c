package payout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/creatorpay/backend/internal/models"
)

// ErrInvalidRequest is returned for non-positive amounts or a missing
// destination key.
var ErrInvalidRequest = errors.New("invalid payout request")

// ErrBelowMinimumPayout is returned when the amount is under the
// configured threshold.
var ErrBelowMinimumPayout = errors.New("amount below minimum payout")

// ErrInsufficientEarnings is returned when the withdrawable pool does not
// cover the requested amount.
var ErrInsufficientEarnings = errors.New("insufficient earnings")

// ErrNotCancellable is returned when cancellation arrives after the payout
// already left the requested state.
var ErrNotCancellable = errors.New("payout can no longer be cancelled")

// ErrNotFound is returned for an unknown payout id.
var ErrNotFound = errors.New("payout request not found")

// Repo is the minimal payout-request store interface for the service.
type Repo interface {
	Create(ctx context.Context, tx pgx.Tx, p *models.PayoutRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PayoutRequest, error)
	Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) (bool, error)
	Resolve(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, failureReason string) error
	ListByProfileID(ctx context.Context, profileID uuid.UUID, from, to *time.Time) ([]*models.PayoutRequest, error)
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// EarningsStore is the reservation side of the creator-earnings ledger.
type EarningsStore interface {
	EnsureForUpdate(ctx context.Context, tx pgx.Tx, profileID uuid.UUID) (*models.CreatorEarnings, error)
	ReservePayout(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, amount int64) (*models.CreatorEarnings, error)
	ReleaseReservation(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, amount int64) (*models.CreatorEarnings, error)
	SettleReservation(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, amount int64) (*models.CreatorEarnings, error)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// InsertDispatchTxFunc enqueues a DispatchPayout job within the given
// transaction. Provided by main using river.Client.InsertTx.
type InsertDispatchTxFunc func(ctx context.Context, tx pgx.Tx, args DispatchPayoutArgs) error

// Settlement outcomes reported by the external rail.
const (
	OutcomePaid   = "paid"
	OutcomeFailed = "failed"
)

type Service interface {
	Request(ctx context.Context, profileID uuid.UUID, amount int64, destinationKey string) (*models.PayoutRequest, error)
	Cancel(ctx context.Context, id, profileID uuid.UUID) error
	MarkProcessing(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	ApplySettlement(ctx context.Context, id uuid.UUID, outcome, failureReason string) error
	Get(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	ListByProfile(ctx context.Context, profileID uuid.UUID, from, to *time.Time) ([]*models.PayoutRequest, error)
	FailStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type service struct {
	db             TxBeginner
	payouts        Repo
	earnings       EarningsStore
	minPayout      int64
	insertDispatch InsertDispatchTxFunc
	log            *slog.Logger
}

// NewService creates a payout service. insertDispatch is typically a
// closure over river.Client.InsertTx.
func NewService(db TxBeginner, payouts Repo, earnings EarningsStore, minPayout int64, insertDispatch InsertDispatchTxFunc, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{db: db, payouts: payouts, earnings: earnings, minPayout: minPayout, insertDispatch: insertDispatch, log: log}
}

var _ Service = (*service)(nil)

// Request reserves the amount out of the withdrawable pool and records the
// payout in state requested. The reservation, the request row, and the
// dispatch job enqueue commit atomically, so the same funds can never back
// two payouts and an accepted request is always dispatched.
func (s *service) Request(ctx context.Context, profileID uuid.UUID, amount int64, destinationKey string) (*models.PayoutRequest, error) {
	if amount <= 0 || destinationKey == "" {
		return nil, ErrInvalidRequest
	}
	if amount < s.minPayout {
		return nil, ErrBelowMinimumPayout
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.earnings.EnsureForUpdate(ctx, tx, profileID); err != nil {
		return nil, err
	}
	e, err := s.earnings.ReservePayout(ctx, tx, profileID, amount)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrInsufficientEarnings
	}

	p := &models.PayoutRequest{
		ID:             uuid.New(),
		ProfileID:      profileID,
		Amount:         amount,
		DestinationKey: destinationKey,
		Status:         models.PayoutStatusRequested,
	}
	if err := s.payouts.Create(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := s.insertDispatch(ctx, tx, DispatchPayoutArgs{PayoutRequestID: p.ID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Cancel reverses the reservation, exactly like a failed settlement. Only
// a payout still in requested can be cancelled; once the dispatcher picked
// it up the rail owns its fate.
func (s *service) Cancel(ctx context.Context, id, profileID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	p, err := s.payouts.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if p == nil || p.ProfileID != profileID {
		return ErrNotFound
	}
	if p.Status != models.PayoutStatusRequested {
		return ErrNotCancellable
	}

	if _, err := s.earnings.EnsureForUpdate(ctx, tx, p.ProfileID); err != nil {
		return err
	}
	if _, err := s.earnings.ReleaseReservation(ctx, tx, p.ProfileID, p.Amount); err != nil {
		return err
	}
	if err := s.payouts.Resolve(ctx, tx, id, models.PayoutStatusCancelled, "cancelled by creator"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkProcessing transitions requested -> processing for the dispatcher.
// Returns nil (no error) when the payout is no longer in requested, e.g.
// it was cancelled before dispatch; the worker skips it.
func (s *service) MarkProcessing(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	p, err := s.payouts.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	if p.Status != models.PayoutStatusRequested {
		return nil, nil
	}
	ok, err := s.payouts.Transition(ctx, tx, id, models.PayoutStatusRequested, models.PayoutStatusProcessing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	p.Status = models.PayoutStatusProcessing
	return p, nil
}

// ApplySettlement applies the rail's terminal outcome. paid settles the
// reservation into paid_out; failed releases it back to the withdrawable
// pool. A payout already in a terminal state ignores the callback, so
// duplicate deliveries are harmless.
func (s *service) ApplySettlement(ctx context.Context, id uuid.UUID, outcome, failureReason string) error {
	if outcome != OutcomePaid && outcome != OutcomeFailed {
		return ErrInvalidRequest
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	p, err := s.payouts.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNotFound
	}
	if models.PayoutTerminal(p.Status) {
		s.log.Info("ignoring duplicate settlement callback", "payout_id", id, "status", p.Status, "outcome", outcome)
		return nil
	}

	if _, err := s.earnings.EnsureForUpdate(ctx, tx, p.ProfileID); err != nil {
		return err
	}
	switch outcome {
	case OutcomePaid:
		if _, err := s.earnings.SettleReservation(ctx, tx, p.ProfileID, p.Amount); err != nil {
			return err
		}
		if err := s.payouts.Resolve(ctx, tx, id, models.PayoutStatusPaid, ""); err != nil {
			return err
		}
	case OutcomeFailed:
		if failureReason == "" {
			failureReason = "settlement failed"
		}
		if _, err := s.earnings.ReleaseReservation(ctx, tx, p.ProfileID, p.Amount); err != nil {
			return err
		}
		if err := s.payouts.Resolve(ctx, tx, id, models.PayoutStatusFailed, failureReason); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	return s.payouts.GetByID(ctx, id)
}

func (s *service) ListByProfile(ctx context.Context, profileID uuid.UUID, from, to *time.Time) ([]*models.PayoutRequest, error) {
	return s.payouts.ListByProfileID(ctx, profileID, from, to)
}

// FailStale force-fails payouts stuck in processing longer than olderThan.
// The rail never gets to hold a reservation hostage indefinitely; an
// outcome arriving after the forced failure is ignored as a duplicate.
func (s *service) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.payouts.ListStaleProcessing(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, id := range ids {
		if err := s.ApplySettlement(ctx, id, OutcomeFailed, "settlement timed out"); err != nil {
			s.log.Error("failed to time out stale payout", "payout_id", id, "error", err)
			continue
		}
		failed++
	}
	return failed, nil
}
