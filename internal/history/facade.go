package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/creatorpay/backend/internal/models"
)

// Activity categories in the unified listing.
const (
	CategoryCredits  = "credits"
	CategoryEarnings = "earnings"
	CategoryPayouts  = "payouts"
)

// Entry is one row of unified account activity. Amount keeps the sign
// convention of the underlying record: credit transactions are signed,
// earnings accruals are the creator share, payouts are negative once paid.
type Entry struct {
	OccurredAt  time.Time `json:"occurred_at"`
	Category    string    `json:"category"`
	Kind        string    `json:"kind"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Reference   string    `json:"reference"`
}

// Filter narrows the listing. Zero values mean "no constraint".
type Filter struct {
	From     *time.Time
	To       *time.Time
	Category string
}

// TransactionLister is the credit-transaction read path.
type TransactionLister interface {
	List(ctx context.Context, userID uuid.UUID, f models.TransactionFilter) ([]*models.CreditTransaction, error)
}

// PaymentLister is the subscription-payment read path.
type PaymentLister interface {
	ListByProfileID(ctx context.Context, profileID uuid.UUID, from, to *time.Time) ([]*models.SubscriptionPayment, error)
}

// PayoutLister is the payout-request read path.
type PayoutLister interface {
	ListByProfileID(ctx context.Context, profileID uuid.UUID, from, to *time.Time) ([]*models.PayoutRequest, error)
}

// Facade is the read-only reporting surface. It has no write path and no
// invariant responsibility beyond faithfully reflecting the stored rows.
type Facade struct {
	txns     TransactionLister
	payments PaymentLister
	payouts  PayoutLister
}

func NewFacade(txns TransactionLister, payments PaymentLister, payouts PayoutLister) *Facade {
	return &Facade{txns: txns, payments: payments, payouts: payouts}
}

// ListActivity merges the user's credit transactions with the profile's
// subscription payments and payout requests, most-recent-first. profileID
// may be uuid.Nil for users without a creator profile.
func (f *Facade) ListActivity(ctx context.Context, userID, profileID uuid.UUID, filter Filter) ([]Entry, error) {
	var entries []Entry

	if filter.Category == "" || filter.Category == CategoryCredits {
		// Page through with the Before cursor until a short page: the
		// listing and the export must carry every row in range, not just
		// the first repository page.
		const pageSize = 500
		page := models.TransactionFilter{From: filter.From, To: filter.To, Limit: pageSize}
		for {
			txns, err := f.txns.List(ctx, userID, page)
			if err != nil {
				return nil, err
			}
			for _, t := range txns {
				ref := ""
				if t.ExternalChargeID != nil {
					ref = *t.ExternalChargeID
				}
				entries = append(entries, Entry{
					OccurredAt:  t.CreatedAt,
					Category:    CategoryCredits,
					Kind:        string(t.Kind),
					Amount:      t.Amount,
					Status:      "applied",
					Description: t.Description,
					Reference:   ref,
				})
			}
			if len(txns) < pageSize {
				break
			}
			last := txns[len(txns)-1].CreatedAt
			page.Before = &last
		}
	}

	if profileID != uuid.Nil && (filter.Category == "" || filter.Category == CategoryEarnings) {
		payments, err := f.payments.ListByProfileID(ctx, profileID, filter.From, filter.To)
		if err != nil {
			return nil, err
		}
		for _, p := range payments {
			entries = append(entries, Entry{
				OccurredAt:  p.CreatedAt,
				Category:    CategoryEarnings,
				Kind:        "subscription_accrual",
				Amount:      p.CreatorAmount,
				Status:      p.Status,
				Description: fmt.Sprintf("subscription %s: gross %d, fee %d", p.SubscriptionID, p.GrossAmount, p.PlatformFee),
				Reference:   p.ID,
			})
		}
	}

	if profileID != uuid.Nil && (filter.Category == "" || filter.Category == CategoryPayouts) {
		payouts, err := f.payouts.ListByProfileID(ctx, profileID, filter.From, filter.To)
		if err != nil {
			return nil, err
		}
		for _, p := range payouts {
			amount := p.Amount
			if p.Status == models.PayoutStatusPaid {
				amount = -p.Amount
			}
			entries = append(entries, Entry{
				OccurredAt:  p.RequestedAt,
				Category:    CategoryPayouts,
				Kind:        "payout_request",
				Amount:      amount,
				Status:      p.Status,
				Description: fmt.Sprintf("payout to %s", p.DestinationKey),
				Reference:   p.ID.String(),
			})
		}
	}

	// Stable ordering: most recent first, reference as tiebreaker so the
	// export is deterministic.
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].OccurredAt.Equal(entries[j].OccurredAt) {
			return entries[i].OccurredAt.After(entries[j].OccurredAt)
		}
		return entries[i].Reference < entries[j].Reference
	})
	return entries, nil
}
