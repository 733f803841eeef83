// Package auth provides credential primitives: password hashing, access
// token signing and verification, and refresh token generation.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Token verification errors. The handler layer surfaces all of these as one
// uniform 401; the distinction exists for operator logs only.
var (
	// ErrTokenExpired indicates the access token is past its expiry.
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenMalformed indicates the token could not be parsed or its
	// signature did not verify.
	ErrTokenMalformed = errors.New("access token malformed")
)

// Claims are the validated contents of an access token.
type Claims struct {
	UserID    string
	Username  string
	TokenID   string
	ExpiresAt time.Time
}

// tokenClaims is the internal claims type used for JWT parsing.
type tokenClaims struct {
	jwt.RegisteredClaims
	Username string `json:"preferred_username"`
}

// TokenSigner issues and verifies HS256-signed access tokens.
// The zero value is not usable; construct with NewTokenSigner.
type TokenSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner creates a TokenSigner. now may be nil, in which case
// time.Now is used; tests inject a fixed clock.
func NewTokenSigner(secret []byte, issuer string, ttl time.Duration, now func() time.Time) (*TokenSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("token signing secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("access token TTL must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenSigner{secret: secret, issuer: issuer, ttl: ttl, now: now}, nil
}

// TTL returns the configured access token lifetime.
func (s *TokenSigner) TTL() time.Duration {
	return s.ttl
}

// Issue signs a new access token bound to the given user.
// Returns the compact token, its jti, and its expiry.
func (s *TokenSigner) Issue(userID, username string) (string, string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	jti := ulid.Make().String()

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: username,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}

	return token, jti, expiresAt, nil
}

// Verify parses and verifies an access token. Expiry is checked against the
// signer's clock. All structural failures map to ErrTokenMalformed; only a
// well-formed, correctly signed but stale token maps to ErrTokenExpired.
func (s *TokenSigner) Verify(token string) (*Claims, error) {
	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	if parsed.Subject == "" || parsed.ID == "" {
		return nil, ErrTokenMalformed
	}

	var expiresAt time.Time
	if parsed.RegisteredClaims.ExpiresAt != nil {
		expiresAt = parsed.RegisteredClaims.ExpiresAt.Time
	}

	return &Claims{
		UserID:    parsed.Subject,
		Username:  parsed.Username,
		TokenID:   parsed.ID,
		ExpiresAt: expiresAt,
	}, nil
}
