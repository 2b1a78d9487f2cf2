package models

import "time"

// Session is the server-side record behind an issued session token. The token
// itself is a signed JWT carrying the session ID; keeping a row per session is
// what makes logout an actual invalidation rather than a client-side fiction.
type Session struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Valid reports whether the session is usable at time now.
func (s *Session) Valid(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
