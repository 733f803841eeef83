// Package model defines domain entities for the application.
package model

import "time"

// RefreshToken is the stored side of a refresh credential. Only the SHA-256
// digest of the opaque value is persisted; the plaintext is handed to the
// client exactly once at issuance.
type RefreshToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"` // Never serialize
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	RotatedAt *time.Time `json:"rotated_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsExpired returns true if the token is past its expiry.
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsUsable returns true if the token can still be exchanged.
// A rotated or revoked token presented again is a replay.
func (t *RefreshToken) IsUsable() bool {
	return t.RotatedAt == nil && t.RevokedAt == nil && !t.IsExpired()
}

// TokenPair is what a successful login or refresh hands back to the client.
type TokenPair struct {
	AccessToken  string
	ExpiresIn    int64 // Seconds until the access token expires
	RefreshToken string
}
