package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PaymentStatusPaid     = "paid"
	PaymentStatusReversed = "reversed"
)

// SubscriptionPayment is the immutable record of one settled external
// charge. ID is the processor's charge id and doubles as the idempotency
// key: a charge id is accrued into CreatorEarnings at most once no matter
// how many times the completion callback is delivered.
type SubscriptionPayment struct {
	ID             string    `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	ProfileID      uuid.UUID `json:"profile_id"`
	GrossAmount    int64     `json:"gross_amount"`
	CreatorAmount  int64     `json:"creator_amount"`
	PlatformFee    int64     `json:"platform_fee"`
	Status         string    `json:"status"`
	ReversalReason *string   `json:"reversal_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
