package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/creatorpay/backend/internal/settlement"
)

// DispatchPayoutArgs identifies one payout to hand to the settlement rail.
type DispatchPayoutArgs struct {
	PayoutRequestID uuid.UUID `json:"payout_request_id"`
}

func (DispatchPayoutArgs) Kind() string { return "dispatch_payout" }

// DispatchPayoutWorker moves a payout from requested to processing and
// submits the transfer instruction to the external rail. Settlement itself
// is asynchronous; the rail reports the outcome via webhook.
type DispatchPayoutWorker struct {
	river.WorkerDefaults[DispatchPayoutArgs]
	svc         Service
	rail        settlement.Rail
	callbackURL string
	log         *slog.Logger
}

func NewDispatchPayoutWorker(svc Service, rail settlement.Rail, publicBaseURL string, log *slog.Logger) *DispatchPayoutWorker {
	if log == nil {
		log = slog.Default()
	}
	return &DispatchPayoutWorker{
		svc:         svc,
		rail:        rail,
		callbackURL: publicBaseURL + "/webhooks/settlement-result",
		log:         log,
	}
}

func (w *DispatchPayoutWorker) Work(ctx context.Context, job *river.Job[DispatchPayoutArgs]) error {
	id := job.Args.PayoutRequestID

	p, err := w.svc.MarkProcessing(ctx, id)
	if err != nil {
		return fmt.Errorf("mark payout processing: %w", err)
	}
	if p == nil {
		// Cancelled or already dispatched before this job ran.
		w.log.Info("payout no longer dispatchable, skipping", "payout_id", id)
		return nil
	}

	err = w.rail.SubmitTransfer(ctx, settlement.TransferRequest{
		PayoutRequestID: p.ID,
		Amount:          p.Amount,
		DestinationKey:  p.DestinationKey,
		CallbackURL:     w.callbackURL,
	})
	if err != nil {
		if errors.Is(err, settlement.ErrRejected) {
			// The rail refused the instruction; resolve now and give the
			// funds back.
			return w.svc.ApplySettlement(ctx, id, OutcomeFailed, err.Error())
		}
		// Transport failure: let river retry, the payout stays in
		// processing and the reconciler bounds how long.
		return fmt.Errorf("submit transfer for payout %s: %w", id, err)
	}
	return nil
}

// ReconcilePayoutsArgs is the periodic job that force-fails stale payouts.
type ReconcilePayoutsArgs struct{}

func (ReconcilePayoutsArgs) Kind() string { return "reconcile_payouts" }

// ReconcilePayoutsWorker resolves payouts stuck in processing past the
// configured timeout, so no reservation is held open indefinitely.
type ReconcilePayoutsWorker struct {
	river.WorkerDefaults[ReconcilePayoutsArgs]
	svc     Service
	timeout time.Duration
	log     *slog.Logger
}

func NewReconcilePayoutsWorker(svc Service, timeout time.Duration, log *slog.Logger) *ReconcilePayoutsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ReconcilePayoutsWorker{svc: svc, timeout: timeout, log: log}
}

func (w *ReconcilePayoutsWorker) Work(ctx context.Context, job *river.Job[ReconcilePayoutsArgs]) error {
	n, err := w.svc.FailStale(ctx, w.timeout)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Warn("force-failed stale payouts", "count", n, "timeout", w.timeout)
	}
	return nil
}
