package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/creatorpay/backend/internal/identity"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubVerifier struct {
	id  *identity.Identity
	err error
}

func (s *stubVerifier) Verify(_ string) (*identity.Identity, error) {
	return s.id, s.err
}

// okHandler writes 200 and the user id (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if id := IdentityFromCtx(r.Context()); id != nil {
		w.Write([]byte(id.UserID.String()))
	}
	w.WriteHeader(http.StatusOK)
})

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRequireIdentity_ValidToken(t *testing.T) {
	userID := uuid.New()
	mw := RequireIdentity(&stubVerifier{id: &identity.Identity{UserID: userID}})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != userID.String() {
		t.Errorf("expected user id %q in body, got %q", userID, body)
	}
}

func TestRequireIdentity_MissingOrMalformedHeader(t *testing.T) {
	mw := RequireIdentity(&stubVerifier{id: &identity.Identity{UserID: uuid.New()}})(okHandler)

	cases := []struct {
		name   string
		header string
	}{
		{"no header at all", ""},
		{"empty bearer", "Bearer "},
		{"wrong scheme", "Basic abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireIdentity_InvalidToken(t *testing.T) {
	mw := RequireIdentity(&stubVerifier{err: errors.New("token expired")})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("shared-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	mw := WebhookAuth(string(hash))(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/test", nil)
	req.Header.Set(WebhookTokenHeader, "shared-secret")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/test", nil)
	req.Header.Set(WebhookTokenHeader, "wrong-secret")
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/test", nil)
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}
}

func TestWebhookAuth_EmptyHashFailsClosed(t *testing.T) {
	mw := WebhookAuth("")(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/test", nil)
	req.Header.Set(WebhookTokenHeader, "anything")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with no configured hash, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	userID := uuid.New()
	auth := RequireIdentity(&stubVerifier{id: &identity.Identity{UserID: userID}})
	mw := auth(RateLimit(1, 2)(okHandler))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		return rec.Code
	}

	// Burst of 2 is allowed, the third immediate request is throttled.
	if code := send(); code != http.StatusOK {
		t.Errorf("request 1: expected 200, got %d", code)
	}
	if code := send(); code != http.StatusOK {
		t.Errorf("request 2: expected 200, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("request 3: expected 429, got %d", code)
	}
}

func TestRateLimit_RejectsUnauthenticated(t *testing.T) {
	mw := RateLimit(1, 1)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity in context, got %d", rec.Code)
	}
}
