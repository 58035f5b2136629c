package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/creatorpay/backend/internal/identity"
)

type contextKey string

const ctxIdentityKey contextKey = "identity"

// IdentityFromCtx returns the identity set by RequireIdentity, or nil.
func IdentityFromCtx(ctx context.Context) *identity.Identity {
	if id, ok := ctx.Value(ctxIdentityKey).(*identity.Identity); ok {
		return id
	}
	return nil
}

// TokenVerifier validates a bearer token into an identity.
type TokenVerifier interface {
	Verify(token string) (*identity.Identity, error)
}

// RequireIdentity authenticates the request via the Authorization bearer
// token and stores the resulting identity in the request context.
func RequireIdentity(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authz, prefix) {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			token := strings.TrimSpace(authz[len(prefix):])
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			id, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxIdentityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
