package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/creatorpay/backend/internal/credits"
	"github.com/creatorpay/backend/internal/earnings"
	"github.com/creatorpay/backend/internal/payout"
)

// WebhookHandler serves the external processor's callbacks. Every endpoint
// is idempotent on the external id it carries: redelivery returns the
// originally recorded result with a 200, never a double-application.
type WebhookHandler struct {
	Credits  credits.Service
	Earnings earnings.Service
	Payouts  payout.Service
	Logger   *slog.Logger
}

type purchaseCompletedRequest struct {
	ExternalChargeID string `json:"external_charge_id" validate:"required"`
	UserID           string `json:"user_id" validate:"required,uuid"`
	PackageCredits   int64  `json:"package_credits" validate:"required,gt=0"`
}

// PurchaseCompleted handles POST /webhooks/purchase-completed.
func (h *WebhookHandler) PurchaseCompleted(w http.ResponseWriter, r *http.Request) {
	var req purchaseCompletedRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	res, err := h.Credits.Purchase(r.Context(), userID, req.PackageCredits, req.ExternalChargeID)
	if err != nil {
		if errors.Is(err, credits.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		h.Logger.Error("purchase webhook failed", "charge_id", req.ExternalChargeID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": res.TransactionID,
		"balance":        res.Balance,
		"duplicate":      res.Duplicate,
	})
}

type subscriptionChargeRequest struct {
	ExternalChargeID string `json:"external_charge_id" validate:"required"`
	SubscriptionID   string `json:"subscription_id" validate:"required,uuid"`
	ProfileID        string `json:"profile_id" validate:"required,uuid"`
	GrossAmount      int64  `json:"gross_amount" validate:"required,gt=0"`
	CreatorAmount    int64  `json:"creator_amount" validate:"gte=0"`
}

// SubscriptionChargeCompleted handles POST /webhooks/subscription-charge-completed.
func (h *WebhookHandler) SubscriptionChargeCompleted(w http.ResponseWriter, r *http.Request) {
	var req subscriptionChargeRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	subscriptionID, err := uuid.Parse(req.SubscriptionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription_id")
		return
	}
	profileID, err := uuid.Parse(req.ProfileID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile_id")
		return
	}

	res, err := h.Earnings.AccrueFromPayment(r.Context(), earnings.Accrual{
		ExternalChargeID: req.ExternalChargeID,
		SubscriptionID:   subscriptionID,
		ProfileID:        profileID,
		GrossAmount:      req.GrossAmount,
		CreatorAmount:    req.CreatorAmount,
	})
	if err != nil {
		if errors.Is(err, earnings.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "invalid amount split")
			return
		}
		h.Logger.Error("accrual webhook failed", "charge_id", req.ExternalChargeID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"earnings":  res.Earnings,
		"duplicate": res.Duplicate,
	})
}

type chargeReversedRequest struct {
	ExternalChargeID string `json:"external_charge_id" validate:"required"`
	Reason           string `json:"reason" validate:"required"`
}

// ChargeReversed handles POST /webhooks/charge-reversed (chargebacks).
func (h *WebhookHandler) ChargeReversed(w http.ResponseWriter, r *http.Request) {
	var req chargeReversedRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	e, err := h.Earnings.AdjustForRefundOrReversal(r.Context(), req.ExternalChargeID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, earnings.ErrPaymentNotFound):
			writeError(w, http.StatusNotFound, "unknown charge id")
		case errors.Is(err, earnings.ErrIrreversibleState):
			// 409 so the processor stops retrying; an operator follows up.
			writeError(w, http.StatusConflict, "reversal cannot be applied, flagged for operator review")
		default:
			h.Logger.Error("reversal webhook failed", "charge_id", req.ExternalChargeID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"earnings": e})
}

type settlementResultRequest struct {
	PayoutRequestID string `json:"payout_request_id" validate:"required,uuid"`
	Outcome         string `json:"outcome" validate:"required,oneof=paid failed"`
	FailureReason   string `json:"failure_reason"`
}

// SettlementResult handles POST /webhooks/settlement-result.
func (h *WebhookHandler) SettlementResult(w http.ResponseWriter, r *http.Request) {
	var req settlementResultRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	payoutID, err := uuid.Parse(req.PayoutRequestID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payout_request_id")
		return
	}

	if err := h.Payouts.ApplySettlement(r.Context(), payoutID, req.Outcome, req.FailureReason); err != nil {
		switch {
		case errors.Is(err, payout.ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown payout request")
		case errors.Is(err, payout.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "invalid outcome")
		default:
			h.Logger.Error("settlement webhook failed", "payout_id", payoutID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
