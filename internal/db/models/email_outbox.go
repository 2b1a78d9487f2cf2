package models

import "time"

// Outbox message statuses.
const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// OutboxEmail is a queued outbound email. Rows are inserted in the same
// transaction as the business change that triggered them (e.g. registration)
// so no mail is queued for a change that rolled back, and delivery never
// blocks the request on SMTP latency.
type OutboxEmail struct {
	ID        string     `json:"id" db:"id"`
	Recipient string     `json:"recipient" db:"recipient"`
	Subject   string     `json:"subject" db:"subject"`
	Body      string     `json:"body" db:"body"`
	Status    string     `json:"status" db:"status"`
	Attempts  int        `json:"attempts" db:"attempts"`
	LastError *string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty" db:"sent_at"`
}
