package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversionEvent is the immutable record of one earnings-to-credits
// transfer. AmountConverted is in cents; CreditsGranted is the floored
// whole-credit grant. The sub-credit remainder is forfeited, not carried.
type ConversionEvent struct {
	ID              uuid.UUID `json:"id"`
	ProfileID       uuid.UUID `json:"profile_id"`
	UserID          uuid.UUID `json:"user_id"`
	AmountConverted int64     `json:"amount_converted"`
	CreditsGranted  int64     `json:"credits_granted"`
	CreatedAt       time.Time `json:"created_at"`
}
