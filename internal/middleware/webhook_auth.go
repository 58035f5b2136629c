package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// WebhookTokenHeader carries the shared token the external processor sends
// with every callback delivery.
const WebhookTokenHeader = "X-Webhook-Token"

// WebhookAuth verifies the processor's shared token against its bcrypt
// hash from configuration. An empty configured hash rejects everything, so
// a misconfigured deployment fails closed.
func WebhookAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(WebhookTokenHeader)
			if token == "" || tokenHash == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
