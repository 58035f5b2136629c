package middleware

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// userLimiters hands out one token bucket per authenticated user.
type userLimiters struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	r        rate.Limit
	burst    int
}

func (u *userLimiters) get(id uuid.UUID) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()
	l, ok := u.limiters[id]
	if !ok {
		l = rate.NewLimiter(u.r, u.burst)
		u.limiters[id] = l
	}
	return l
}

// RateLimit throttles balance-mutating endpoints per user. Run after
// RequireIdentity; unauthenticated requests are rejected outright.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	limiters := &userLimiters{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		r:        rate.Limit(perSecond),
		burst:    burst,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromCtx(r.Context())
			if id == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if !limiters.get(id.UserID).Allow() {
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
