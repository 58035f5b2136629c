package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditAccount holds a consuming user's spendable credit balance.
// Balance is always LifetimeCredited - LifetimeDebited; both lifetime
// counters only ever grow. Accounts are created lazily on first use and
// never deleted, so the transaction history stays auditable.
type CreditAccount struct {
	UserID           uuid.UUID `json:"user_id"`
	Balance          int64     `json:"balance"`
	LifetimeCredited int64     `json:"lifetime_credited"`
	LifetimeDebited  int64     `json:"lifetime_debited"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
