// Package auth provides credential primitives: password hashing, access
// token signing and verification, and refresh token generation.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// refreshSecretLen is the raw byte length of a refresh token (256 bits).
const refreshSecretLen = 32

// GenerateRefreshToken creates a new opaque refresh token.
// The plaintext goes to the client once; only the digest is stored.
func GenerateRefreshToken() (plaintext, digest string, err error) {
	buf := make([]byte, refreshSecretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, DigestRefreshToken(plaintext), nil
}

// DigestRefreshToken returns the hex-encoded SHA-256 digest of a refresh
// token. Refresh tokens are high-entropy random values, so a plain digest
// is sufficient for storage; lookups by digest stay constant-time.
func DigestRefreshToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
