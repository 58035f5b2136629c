package router

import (
	"net/http"

	"github.com/creatorpay/backend/internal/handlers"
	"github.com/creatorpay/backend/internal/middleware"
)

// New assembles the HTTP surface: processor webhooks behind the shared
// webhook token, user endpoints behind identity auth, mutations also
// behind the per-user rate limit.
func New(
	ledger *handlers.LedgerHandler,
	hist *handlers.HistoryHandler,
	webhooks *handlers.WebhookHandler,
	verifier middleware.TokenVerifier,
	webhookTokenHash string,
) http.Handler {
	mux := http.NewServeMux()

	auth := middleware.RequireIdentity(verifier)
	limited := middleware.RateLimit(5, 10)
	whAuth := middleware.WebhookAuth(webhookTokenHash)

	// External processor callbacks.
	mux.Handle("POST /webhooks/purchase-completed", whAuth(http.HandlerFunc(webhooks.PurchaseCompleted)))
	mux.Handle("POST /webhooks/subscription-charge-completed", whAuth(http.HandlerFunc(webhooks.SubscriptionChargeCompleted)))
	mux.Handle("POST /webhooks/charge-reversed", whAuth(http.HandlerFunc(webhooks.ChargeReversed)))
	mux.Handle("POST /webhooks/settlement-result", whAuth(http.HandlerFunc(webhooks.SettlementResult)))

	// Credit account.
	mux.Handle("GET /api/v1/credits/balance", auth(http.HandlerFunc(ledger.GetBalance)))
	mux.Handle("GET /api/v1/credits/transactions", auth(http.HandlerFunc(ledger.ListTransactions)))
	mux.Handle("POST /api/v1/credits/spend", auth(limited(http.HandlerFunc(ledger.Spend))))

	// Creator earnings.
	mux.Handle("GET /api/v1/earnings", auth(http.HandlerFunc(ledger.GetEarnings)))
	mux.Handle("POST /api/v1/earnings/convert", auth(limited(http.HandlerFunc(ledger.Convert))))
	mux.Handle("GET /api/v1/earnings/conversions", auth(http.HandlerFunc(ledger.ListConversions)))

	// Payouts.
	mux.Handle("POST /api/v1/payouts", auth(limited(http.HandlerFunc(ledger.RequestPayout))))
	mux.Handle("GET /api/v1/payouts", auth(http.HandlerFunc(ledger.ListPayouts)))
	mux.Handle("DELETE /api/v1/payouts/{id}", auth(http.HandlerFunc(ledger.CancelPayout)))

	// History and export.
	mux.Handle("GET /api/v1/history", auth(http.HandlerFunc(hist.ListActivity)))
	mux.Handle("GET /api/v1/history/export.csv", auth(http.HandlerFunc(hist.ExportCSV)))

	return mux
}
