package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionTokenIssuer = "liveness-check"

// SessionToken is a freshly issued capture session credential.
type SessionToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// SessionTokenIssuer mints short lived HS256 session tokens bound to a
// device key.
type SessionTokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokenIssuer returns an issuer signing with secret.
func NewSessionTokenIssuer(secret string, ttl time.Duration) *SessionTokenIssuer {
	return &SessionTokenIssuer{secret: []byte(strings.TrimSpace(secret)), ttl: ttl, now: time.Now}
}

// Issue mints a token for deviceKey.
func (i *SessionTokenIssuer) Issue(deviceKey string) (*SessionToken, error) {
	if len(i.secret) == 0 {
		return nil, errors.New("missing session token secret")
	}
	if deviceKey == "" {
		return nil, errors.New("device key required")
	}

	now := i.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    sessionTokenIssuer,
		Subject:   deviceKey,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, err
	}
	return &SessionToken{Token: signed, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}
