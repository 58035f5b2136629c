package payout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/creatorpay/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for Repo, EarningsStore, and TxBeginner.
// ---------------------------------------------------------------------------

type fakeTx struct {
	pgx.Tx
	committed bool
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error { return nil }

type fakeDB struct{}

func (fakeDB) Begin(_ context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }

// ---

type mockPayouts struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.PayoutRequest
}

func newMockPayouts() *mockPayouts {
	return &mockPayouts{requests: make(map[uuid.UUID]*models.PayoutRequest)}
}

func (m *mockPayouts) Create(_ context.Context, _ pgx.Tx, p *models.PayoutRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.RequestedAt = time.Now()
	m.requests[p.ID] = &cp
	return nil
}

func (m *mockPayouts) GetByID(_ context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockPayouts) GetForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.PayoutRequest, error) {
	return m.GetByID(ctx, id)
}

func (m *mockPayouts) Transition(_ context.Context, _ pgx.Tx, id uuid.UUID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.requests[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if to == models.PayoutStatusProcessing {
		now := time.Now()
		p.ProcessingAt = &now
	}
	return true, nil
}

func (m *mockPayouts) Resolve(_ context.Context, _ pgx.Tx, id uuid.UUID, status, failureReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.requests[id]
	p.Status = status
	if failureReason != "" {
		p.FailureReason = &failureReason
	}
	now := time.Now()
	p.ResolvedAt = &now
	return nil
}

func (m *mockPayouts) ListByProfileID(_ context.Context, profileID uuid.UUID, _, _ *time.Time) ([]*models.PayoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PayoutRequest
	for _, p := range m.requests {
		if p.ProfileID == profileID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockPayouts) ListStaleProcessing(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for id, p := range m.requests {
		if p.Status == models.PayoutStatusProcessing && p.ProcessingAt != nil && p.ProcessingAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *mockPayouts) backdate(id uuid.UUID, requestedAgo, processingAgo time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.requests[id]
	p.RequestedAt = time.Now().Add(-requestedAgo)
	if p.ProcessingAt != nil && processingAgo > 0 {
		t := time.Now().Add(-processingAgo)
		p.ProcessingAt = &t
	}
}

func (m *mockPayouts) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[id].Status
}

// ---

type mockEarnings struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*models.CreatorEarnings
}

func newMockEarnings(profileID uuid.UUID, pending int64) *mockEarnings {
	return &mockEarnings{profiles: map[uuid.UUID]*models.CreatorEarnings{
		profileID: {ProfileID: profileID, TotalEarned: pending, PendingPayout: pending},
	}}
}

func (m *mockEarnings) get(profileID uuid.UUID) *models.CreatorEarnings {
	e, ok := m.profiles[profileID]
	if !ok {
		e = &models.CreatorEarnings{ProfileID: profileID}
		m.profiles[profileID] = e
	}
	return e
}

func (m *mockEarnings) EnsureForUpdate(_ context.Context, _ pgx.Tx, profileID uuid.UUID) (*models.CreatorEarnings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.get(profileID)
	return &cp, nil
}

func (m *mockEarnings) ReservePayout(_ context.Context, _ pgx.Tx, profileID uuid.UUID, amount int64) (*models.CreatorEarnings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(profileID)
	if e.PendingPayout < amount {
		return nil, nil
	}
	e.PendingPayout -= amount
	e.ReservedPayout += amount
	cp := *e
	return &cp, nil
}

func (m *mockEarnings) ReleaseReservation(_ context.Context, _ pgx.Tx, profileID uuid.UUID, amount int64) (*models.CreatorEarnings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(profileID)
	e.ReservedPayout -= amount
	e.PendingPayout += amount
	cp := *e
	return &cp, nil
}

func (m *mockEarnings) SettleReservation(_ context.Context, _ pgx.Tx, profileID uuid.UUID, amount int64) (*models.CreatorEarnings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(profileID)
	e.ReservedPayout -= amount
	e.PaidOut += amount
	now := time.Now()
	e.LastPayoutDate = &now
	cp := *e
	return &cp, nil
}

func (m *mockEarnings) snapshot(profileID uuid.UUID) models.CreatorEarnings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.get(profileID)
}

// ---

// dispatchRecorder stands in for river.Client.InsertTx.
type dispatchRecorder struct {
	mu       sync.Mutex
	enqueued []DispatchPayoutArgs
}

func (d *dispatchRecorder) insert(_ context.Context, _ pgx.Tx, args DispatchPayoutArgs) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueued = append(d.enqueued, args)
	return nil
}

const minPayout = 5000

func newTestService(payouts *mockPayouts, store *mockEarnings, dispatch *dispatchRecorder) Service {
	return NewService(fakeDB{}, payouts, store, minPayout, dispatch.insert, nil)
}

// ---------------------------------------------------------------------------
// 1. TestRequestReservesAndDispatches
// ---------------------------------------------------------------------------

func TestRequestReservesAndDispatches(t *testing.T) {
	profile := uuid.New()
	payouts := newMockPayouts()
	store := newMockEarnings(profile, 10000)
	dispatch := &dispatchRecorder{}
	svc := newTestService(payouts, store, dispatch)

	p, err := svc.Request(context.Background(), profile, 6000, "acct_123")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if p.Status != models.PayoutStatusRequested {
		t.Errorf("status: got %s, want %s", p.Status, models.PayoutStatusRequested)
	}

	e := store.snapshot(profile)
	if e.PendingPayout != 4000 || e.ReservedPayout != 6000 {
		t.Errorf("pools after request: pending=%d reserved=%d, want 4000/6000", e.PendingPayout, e.ReservedPayout)
	}
	if len(dispatch.enqueued) != 1 || dispatch.enqueued[0].PayoutRequestID != p.ID {
		t.Error("request should enqueue exactly one dispatch job for the new payout")
	}

	// A second request can only draw on what is left unreserved.
	if _, err := svc.Request(context.Background(), profile, 5000, "acct_123"); err != ErrInsufficientEarnings {
		t.Errorf("expected ErrInsufficientEarnings for double-spend of reserved funds, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// 2. TestRequestBelowMinimum
// ---------------------------------------------------------------------------

func TestRequestBelowMinimum(t *testing.T) {
	profile := uuid.New()
	svc := newTestService(newMockPayouts(), newMockEarnings(profile, 10000), &dispatchRecorder{})
	ctx := context.Background()

	if _, err := svc.Request(ctx, profile, minPayout-1, "acct_123"); err != ErrBelowMinimumPayout {
		t.Errorf("expected ErrBelowMinimumPayout, got: %v", err)
	}
	if _, err := svc.Request(ctx, profile, 0, "acct_123"); err != ErrInvalidRequest {
		t.Errorf("expected ErrInvalidRequest for zero amount, got: %v", err)
	}
	if _, err := svc.Request(ctx, profile, 6000, ""); err != ErrInvalidRequest {
		t.Errorf("expected ErrInvalidRequest for missing destination, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// 3. TestSettlementPaid
//    paid moves exactly the requested amount from reserved to paid_out and
//    stamps the last payout date.
// ---------------------------------------------------------------------------

func TestSettlementPaid(t *testing.T) {
	profile := uuid.New()
	payouts := newMockPayouts()
	store := newMockEarnings(profile, 10000)
	svc := newTestService(payouts, store, &dispatchRecorder{})
	ctx := context.Background()

	p, err := svc.Request(ctx, profile, 6000, "acct_123")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := svc.MarkProcessing(ctx, p.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := svc.ApplySettlement(ctx, p.ID, OutcomePaid, ""); err != nil {
		t.Fatalf("ApplySettlement paid: %v", err)
	}

	e := store.snapshot(profile)
	if e.PaidOut != 6000 || e.ReservedPayout != 0 || e.PendingPayout != 4000 {
		t.Errorf("pools after paid: paid=%d reserved=%d pending=%d, want 6000/0/4000",
			e.PaidOut, e.ReservedPayout, e.PendingPayout)
	}
	if e.LastPayoutDate == nil {
		t.Error("last payout date should be stamped on settlement")
	}
	if got := payouts.status(p.ID); got != models.PayoutStatusPaid {
		t.Errorf("payout status: got %s, want %s", got, models.PayoutStatusPaid)
	}
}

// ---------------------------------------------------------------------------
// 4. TestSettlementFailedRestoresFunds
//    failed returns the reservation to the withdrawable pool untouched.
// ---------------------------------------------------------------------------

func TestSettlementFailedRestoresFunds(t *testing.T) {
	profile := uuid.New()
	payouts := newMockPayouts()
	store := newMockEarnings(profile, 10000)
	svc := newTestService(payouts, store, &dispatchRecorder{})
	ctx := context.Background()

	p, err := svc.Request(ctx, profile, 6000, "acct_123")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := svc.MarkProcessing(ctx, p.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := svc.ApplySettlement(ctx, p.ID, OutcomeFailed, "rail rejected destination"); err != nil {
		t.Fatalf("ApplySettlement failed: %v", err)
	}

	e := store.snapshot(profile)
	if e.PendingPayout != 10000 || e.ReservedPayout != 0 || e.PaidOut != 0 {
		t.Errorf("pools after failure: pending=%d reserved=%d paid=%d, want 10000/0/0",
			e.PendingPayout, e.ReservedPayout, e.PaidOut)
	}
	got, err := svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.PayoutStatusFailed {
		t.Errorf("payout status: got %s, want %s", got.Status, models.PayoutStatusFailed)
	}
	if got.FailureReason == nil || *got.FailureReason != "rail rejected destination" {
		t.Error("failure reason should be recorded")
	}
}

// ---------------------------------------------------------------------------
// 5. TestSettlementDuplicateIgnored
//    Terminal payouts ignore further callbacks; a late failed after paid
//    must not move money twice.
// ---------------------------------------------------------------------------

func TestSettlementDuplicateIgnored(t *testing.T) {
	profile := uuid.New()
	payouts := newMockPayouts()
	store := newMockEarnings(profile, 10000)
	svc := newTestService(payouts, store, &dispatchRecorder{})
	ctx := context.Background()

	p, err := svc.Request(ctx, profile, 6000, "acct_123")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := svc.MarkProcessing(ctx, p.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := svc.ApplySettlement(ctx, p.ID, OutcomePaid, ""); err != nil {
		t.Fatalf("ApplySettlement paid: %v", err)
	}

	// Redeliveries of either outcome are no-ops.
	if err := svc.ApplySettlement(ctx, p.ID, OutcomePaid, ""); err != nil {
		t.Fatalf("duplicate paid: %v", err)
	}
	if err := svc.ApplySettlement(ctx, p.ID, OutcomeFailed, "late failure"); err != nil {
		t.Fatalf("late failed after paid: %v", err)
	}

	e := store.snapshot(profile)
	if e.PaidOut != 6000 || e.PendingPayout != 4000 || e.ReservedPayout != 0 {
		t.Errorf("pools after duplicates: paid=%d pending=%d reserved=%d, want 6000/4000/0",
			e.PaidOut, e.PendingPayout, e.ReservedPayout)
	}
	if got := payouts.status(p.ID); got != models.PayoutStatusPaid {
		t.Errorf("payout status: got %s, want %s", got, models.PayoutStatusPaid)
	}

	if err := svc.ApplySettlement(ctx, p.ID, "exploded", ""); err != ErrInvalidRequest {
		t.Errorf("expected ErrInvalidRequest for unknown outcome, got: %v", err)
	}
	if err := svc.ApplySettlement(ctx, uuid.New(), OutcomePaid, ""); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown payout, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// 6. TestCancel
//    Cancellation only works from requested and returns the reservation.
// ---------------------------------------------------------------------------

func TestCancel(t *testing.T) {
	profile := uuid.New()
	payouts := newMockPayouts()
	store := newMockEarnings(profile, 10000)
	svc := newTestService(payouts, store, &dispatchRecorder{})
	ctx := context.Background()

	p, err := svc.Request(ctx, profile, 6000, "acct_123")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := svc.Cancel(ctx, p.ID, profile); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	e := store.snapshot(profile)
	if e.PendingPayout != 10000 || e.ReservedPayout != 0 {
		t.Errorf("pools after cancel: pending=%d reserved=%d, want 10000/0", e.PendingPayout, e.ReservedPayout)
	}

	// Another creator's payout is not visible to this profile.
	p2, err := svc.Request(ctx, profile, 6000, "acct_123")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := svc.Cancel(ctx, p2.ID, uuid.New()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for foreign profile, got: %v", err)
	}

	// Once processing, cancellation is refused.
	if _, err := svc.MarkProcessing(ctx, p2.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := svc.Cancel(ctx, p2.ID, profile); err != ErrNotCancellable {
		t.Errorf("expected ErrNotCancellable, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// 7. TestMarkProcessingSkipsNonRequested
// ---------------------------------------------------------------------------

func TestMarkProcessingSkipsNonRequested(t *testing.T) {
	profile := uuid.New()
	payouts := newMockPayouts()
	store := newMockEarnings(profile, 10000)
	svc := newTestService(payouts, store, &dispatchRecorder{})
	ctx := context.Background()

	p, err := svc.Request(ctx, profile, 6000, "acct_123")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := svc.Cancel(ctx, p.ID, profile); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// The dispatch job racing a cancellation gets a nil payout and skips.
	got, err := svc.MarkProcessing(ctx, p.ID)
	if err != nil {
		t.Fatalf("MarkProcessing after cancel: %v", err)
	}
	if got != nil {
		t.Error("cancelled payout should not be marked processing")
	}
	if _, err := svc.MarkProcessing(ctx, uuid.New()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// 8. TestFailStale
//    The reconciler force-fails stuck processing payouts and releases their
//    reservations. Staleness counts from the processing transition, not
//    from the original request.
// ---------------------------------------------------------------------------

func TestFailStale(t *testing.T) {
	profile := uuid.New()
	payouts := newMockPayouts()
	store := newMockEarnings(profile, 20000)
	svc := newTestService(payouts, store, &dispatchRecorder{})
	ctx := context.Background()

	stuck, err := svc.Request(ctx, profile, 6000, "acct_123")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := svc.MarkProcessing(ctx, stuck.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	payouts.backdate(stuck.ID, 3*time.Hour, 2*time.Hour)
	fresh, err := svc.Request(ctx, profile, 5000, "acct_123")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	n, err := svc.FailStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if n != 1 {
		t.Errorf("stale payouts failed: got %d, want 1", n)
	}
	if got := payouts.status(stuck.ID); got != models.PayoutStatusFailed {
		t.Errorf("stuck payout status: got %s, want %s", got, models.PayoutStatusFailed)
	}
	if got := payouts.status(fresh.ID); got != models.PayoutStatusRequested {
		t.Errorf("fresh payout status: got %s, want %s (untouched)", got, models.PayoutStatusRequested)
	}
	e := store.snapshot(profile)
	if e.ReservedPayout != 5000 || e.PendingPayout != 15000 {
		t.Errorf("pools after reconcile: reserved=%d pending=%d, want 5000/15000", e.ReservedPayout, e.PendingPayout)
	}
}

// ---------------------------------------------------------------------------
// 9. TestFailStale_DelayedDispatchIsNotStale
//    A payout that sat in requested past the timeout (dispatch backlog) but
//    only just reached the rail must not be force-failed: doing so would
//    release the reservation while the transfer is in flight and let the
//    same funds leave twice once the rail pays.
// ---------------------------------------------------------------------------

func TestFailStale_DelayedDispatchIsNotStale(t *testing.T) {
	profile := uuid.New()
	payouts := newMockPayouts()
	store := newMockEarnings(profile, 10000)
	svc := newTestService(payouts, store, &dispatchRecorder{})
	ctx := context.Background()

	p, err := svc.Request(ctx, profile, 6000, "acct_123")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := svc.MarkProcessing(ctx, p.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	// Old request, fresh dispatch.
	payouts.backdate(p.ID, 3*time.Hour, 0)

	n, err := svc.FailStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if n != 0 {
		t.Errorf("stale payouts failed: got %d, want 0", n)
	}
	if got := payouts.status(p.ID); got != models.PayoutStatusProcessing {
		t.Errorf("payout status: got %s, want %s (still in flight)", got, models.PayoutStatusProcessing)
	}

	// The rail's genuine outcome still lands.
	if err := svc.ApplySettlement(ctx, p.ID, OutcomePaid, ""); err != nil {
		t.Fatalf("ApplySettlement: %v", err)
	}
	e := store.snapshot(profile)
	if e.PaidOut != 6000 || e.ReservedPayout != 0 || e.PendingPayout != 4000 {
		t.Errorf("pools after paid: paid=%d reserved=%d pending=%d, want 6000/0/4000",
			e.PaidOut, e.ReservedPayout, e.PendingPayout)
	}
}
