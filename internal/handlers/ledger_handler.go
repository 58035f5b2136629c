package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/creatorpay/backend/internal/conversion"
	"github.com/creatorpay/backend/internal/credits"
	"github.com/creatorpay/backend/internal/earnings"
	"github.com/creatorpay/backend/internal/middleware"
	"github.com/creatorpay/backend/internal/models"
	"github.com/creatorpay/backend/internal/payout"
)

// LedgerHandler serves the authenticated user-facing ledger endpoints.
type LedgerHandler struct {
	Credits    credits.Service
	Earnings   earnings.Service
	Conversion conversion.Service
	Payouts    payout.Service
	Logger     *slog.Logger
}

// GetBalance handles GET /api/v1/credits/balance.
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	acc, err := h.Credits.GetBalance(r.Context(), id.UserID)
	if err != nil {
		h.Logger.Error("get balance", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// ListTransactions handles GET /api/v1/credits/transactions.
func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	f := models.TransactionFilter{Kind: models.TransactionKind(r.URL.Query().Get("kind"))}
	var ok bool
	if f.From, ok = parseTimeParam(r, "from"); !ok {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	if f.To, ok = parseTimeParam(r, "to"); !ok {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}
	if f.Before, ok = parseTimeParam(r, "before"); !ok {
		writeError(w, http.StatusBadRequest, "invalid before")
		return
	}

	txns, err := h.Credits.ListTransactions(r.Context(), id.UserID, f)
	if err != nil {
		if errors.Is(err, credits.ErrInvalidKind) {
			writeError(w, http.StatusBadRequest, "unknown kind")
			return
		}
		h.Logger.Error("list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

type spendRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Kind        string `json:"kind" validate:"required"`
	Description string `json:"description"`
}

// Spend handles POST /api/v1/credits/spend.
func (h *LedgerHandler) Spend(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req spendRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := h.Credits.Spend(r.Context(), id.UserID, req.Amount, models.TransactionKind(req.Kind), req.Description)
	if err != nil {
		switch {
		case errors.Is(err, credits.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "invalid amount")
		case errors.Is(err, credits.ErrInvalidKind):
			writeError(w, http.StatusBadRequest, "unknown spend kind")
		case errors.Is(err, credits.ErrInsufficientBalance):
			writeError(w, http.StatusPaymentRequired, "insufficient balance")
		default:
			h.Logger.Error("spend", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": res.TransactionID,
		"new_balance":    res.NewBalance,
	})
}

// requireProfile resolves the caller's creator profile or writes 403.
func requireProfile(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	if id.ProfileID == uuid.Nil {
		writeError(w, http.StatusForbidden, "no creator profile")
		return uuid.Nil, uuid.Nil, false
	}
	return id.ProfileID, id.UserID, true
}

// GetEarnings handles GET /api/v1/earnings.
func (h *LedgerHandler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	profileID, _, ok := requireProfile(w, r)
	if !ok {
		return
	}
	e, err := h.Earnings.GetEarnings(r.Context(), profileID)
	if err != nil {
		h.Logger.Error("get earnings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type convertRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// Convert handles POST /api/v1/earnings/convert.
func (h *LedgerHandler) Convert(w http.ResponseWriter, r *http.Request) {
	profileID, userID, ok := requireProfile(w, r)
	if !ok {
		return
	}
	var req convertRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := h.Conversion.Convert(r.Context(), profileID, userID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, conversion.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "amount must cover at least one whole credit")
		case errors.Is(err, conversion.ErrInsufficientEarnings):
			writeError(w, http.StatusPaymentRequired, "insufficient earnings")
		default:
			h.Logger.Error("convert", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credits_granted":    res.CreditsGranted,
		"new_pending_payout": res.NewPendingPayout,
		"new_credit_balance": res.NewCreditBalance,
	})
}

// ListConversions handles GET /api/v1/earnings/conversions.
func (h *LedgerHandler) ListConversions(w http.ResponseWriter, r *http.Request) {
	profileID, _, ok := requireProfile(w, r)
	if !ok {
		return
	}
	events, err := h.Conversion.ListEvents(r.Context(), profileID)
	if err != nil {
		h.Logger.Error("list conversions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type payoutRequestBody struct {
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	DestinationKey string `json:"destination_key" validate:"required"`
}

// RequestPayout handles POST /api/v1/payouts.
func (h *LedgerHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	profileID, _, ok := requireProfile(w, r)
	if !ok {
		return
	}
	var req payoutRequestBody
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	p, err := h.Payouts.Request(r.Context(), profileID, req.Amount, req.DestinationKey)
	if err != nil {
		switch {
		case errors.Is(err, payout.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "invalid payout request")
		case errors.Is(err, payout.ErrBelowMinimumPayout):
			writeError(w, http.StatusBadRequest, "amount below minimum payout")
		case errors.Is(err, payout.ErrInsufficientEarnings):
			writeError(w, http.StatusPaymentRequired, "insufficient earnings")
		default:
			h.Logger.Error("request payout", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"payout_request_id": p.ID,
		"status":            p.Status,
	})
}

// ListPayouts handles GET /api/v1/payouts.
func (h *LedgerHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	profileID, _, ok := requireProfile(w, r)
	if !ok {
		return
	}
	from, okF := parseTimeParam(r, "from")
	to, okT := parseTimeParam(r, "to")
	if !okF || !okT {
		writeError(w, http.StatusBadRequest, "invalid date range")
		return
	}
	list, err := h.Payouts.ListByProfile(r.Context(), profileID, from, to)
	if err != nil {
		h.Logger.Error("list payouts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// CancelPayout handles DELETE /api/v1/payouts/{id}.
func (h *LedgerHandler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	profileID, _, ok := requireProfile(w, r)
	if !ok {
		return
	}
	payoutID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payout id")
		return
	}

	if err := h.Payouts.Cancel(r.Context(), payoutID, profileID); err != nil {
		switch {
		case errors.Is(err, payout.ErrNotFound):
			writeError(w, http.StatusNotFound, "payout request not found")
		case errors.Is(err, payout.ErrNotCancellable):
			writeError(w, http.StatusConflict, "payout can no longer be cancelled")
		default:
			h.Logger.Error("cancel payout", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
