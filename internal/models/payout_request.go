package models

import (
	"time"

	"github.com/google/uuid"
)

// Payout request states. Requested and processing are live; the rest are
// terminal. Failed and cancelled both return the reserved funds to the
// withdrawable pool.
const (
	PayoutStatusRequested  = "requested"
	PayoutStatusProcessing = "processing"
	PayoutStatusPaid       = "paid"
	PayoutStatusFailed     = "failed"
	PayoutStatusCancelled  = "cancelled"
)

// PayoutTerminal reports whether status is a terminal payout state.
func PayoutTerminal(status string) bool {
	return status == PayoutStatusPaid || status == PayoutStatusFailed || status == PayoutStatusCancelled
}

// PayoutRequest tracks one withdrawal to the external settlement rail.
type PayoutRequest struct {
	ID             uuid.UUID  `json:"id"`
	ProfileID      uuid.UUID  `json:"profile_id"`
	Amount         int64      `json:"amount"`
	DestinationKey string     `json:"destination_key"`
	Status         string     `json:"status"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	RequestedAt    time.Time  `json:"requested_at"`
	ProcessingAt   *time.Time `json:"processing_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}
