package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind is the closed set of credit transaction categories.
type TransactionKind string

const (
	KindPurchase          TransactionKind = "purchase"
	KindSubscriptionSpend TransactionKind = "subscription_spend"
	KindTipSpend          TransactionKind = "tip_spend"
	KindPPVSpend          TransactionKind = "ppv_spend"
	KindBoostSpend        TransactionKind = "boost_spend"
	KindConversionIn      TransactionKind = "conversion_in"
	KindAdminAdjustment   TransactionKind = "admin_adjustment"
)

// Valid reports whether k is one of the known kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindPurchase, KindSubscriptionSpend, KindTipSpend, KindPPVSpend,
		KindBoostSpend, KindConversionIn, KindAdminAdjustment:
		return true
	}
	return false
}

// IsSpend reports whether k is a user-initiated debit kind.
func (k TransactionKind) IsSpend() bool {
	switch k {
	case KindSubscriptionSpend, KindTipSpend, KindPPVSpend, KindBoostSpend:
		return true
	}
	return false
}

// CreditTransaction is one append-only row per balance-affecting event.
// Amount is signed: positive credits, negative debits. Rows are never
// updated or deleted; the signed sum per user equals the account balance.
type CreditTransaction struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	Amount           int64           `json:"amount"`
	Kind             TransactionKind `json:"kind"`
	Description      string          `json:"description"`
	ExternalChargeID *string         `json:"external_charge_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// TransactionFilter narrows ListTransactions results. Zero values mean
// "no constraint". Before/Limit form the cursor for restartable paging.
type TransactionFilter struct {
	Kind   TransactionKind
	From   *time.Time
	To     *time.Time
	Before *time.Time
	Limit  int
}
