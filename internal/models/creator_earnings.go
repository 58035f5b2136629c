package models

import (
	"time"

	"github.com/google/uuid"
)

// CreatorEarnings tracks a creator profile's revenue pools, all in integer
// cents. Every cent ever earned is in exactly one pool:
//
//	TotalEarned == PlatformFeeTotal + PendingPayout + ReservedPayout + PaidOut + ConvertedTotal
//
// PendingPayout is the withdrawable pool and never goes negative.
// ReservedPayout holds funds removed from the withdrawable pool by an
// in-flight payout request; they move to PaidOut on settlement or back to
// PendingPayout on failure/cancellation. ConvertedTotal accumulates value
// transferred out through earnings-to-credits conversion.
type CreatorEarnings struct {
	ProfileID        uuid.UUID  `json:"profile_id"`
	TotalEarned      int64      `json:"total_earned"`
	PlatformFeeTotal int64      `json:"platform_fee_total"`
	PendingPayout    int64      `json:"pending_payout"`
	ReservedPayout   int64      `json:"reserved_payout"`
	PaidOut          int64      `json:"paid_out"`
	ConvertedTotal   int64      `json:"converted_total"`
	LastPayoutDate   *time.Time `json:"last_payout_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
