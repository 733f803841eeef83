// Package model defines domain entities for the application.
package model

import "time"

// User represents a stored identity. Accounts are provisioned externally
// (see scripts/bootstrap-user.go); the API never creates or mutates them.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // Never serialize
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the resolved principal of an authenticated request.
// The auth middleware injects it into the request context; every store
// operation receives it explicitly.
type Identity struct {
	UserID   string
	Username string
	TokenID  string // jti of the access token that resolved this identity
}
