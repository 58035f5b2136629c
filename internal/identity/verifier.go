// Package identity validates the bearer tokens issued by the platform's
// identity service. This subsystem trusts the user/profile binding the
// token carries and never re-derives it.
package identity

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the authenticated caller context for every ledger operation.
// ProfileID is uuid.Nil for users without a creator profile.
type Identity struct {
	UserID    uuid.UUID
	ProfileID uuid.UUID
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

type claims struct {
	jwt.RegisteredClaims
	ProfileID string `json:"profile_id,omitempty"`
}

// Verify parses and validates a token, returning the identity it asserts.
func (v *Verifier) Verify(token string) (*Identity, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, errors.New("invalid subject claim")
	}
	id := &Identity{UserID: userID}
	if c.ProfileID != "" {
		profileID, err := uuid.Parse(c.ProfileID)
		if err != nil {
			return nil, errors.New("invalid profile_id claim")
		}
		id.ProfileID = profileID
	}
	return id, nil
}
