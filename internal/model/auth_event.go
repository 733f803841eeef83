// Package model defines domain entities for the application.
package model

import "time"

// Auth event types recorded by the audit pipeline.
const (
	AuthEventLoginSuccess   = "login_success"
	AuthEventLoginFailure   = "login_failure"
	AuthEventRefresh        = "refresh"
	AuthEventRefreshReplay  = "refresh_replay"
	AuthEventLogout         = "logout"
)

// AuthEvent is an operator-facing record of an authentication outcome.
// Events are written asynchronously by the audit worker and never surface
// to API clients.
type AuthEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Username   string    `json:"username"`
	UserID     string    `json:"user_id,omitempty"`
	ClientHash string    `json:"client_hash"` // Hashed remote address, never the raw IP
	OccurredAt time.Time `json:"occurred_at"`
}
