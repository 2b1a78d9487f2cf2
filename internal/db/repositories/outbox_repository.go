// outbox_repository.go implements OutboxRepository, the queue of outbound
// emails. Messages are enqueued on the caller's transaction (so a rolled-back
// registration queues no mail) and drained by the background dispatcher.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/memberbase/memberbase/internal/db/models"
)

// OutboxRepository handles email outbox database operations
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts a pending message using ext — normally the transaction of
// the business change that triggered the email.
func (r *OutboxRepository) Enqueue(ctx context.Context, ext sqlx.ExtContext, recipient, subject, body string) (*models.OutboxEmail, error) {
	msg := &models.OutboxEmail{
		ID:        uuid.New().String(),
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    models.OutboxStatusPending,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO email_outbox (id, recipient, subject, body, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
	`

	_, err := ext.ExecContext(ctx, query,
		msg.ID,
		msg.Recipient,
		msg.Subject,
		msg.Body,
		msg.Status,
		msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// ClaimPending fetches up to limit pending messages, oldest first. The
// dispatcher runs as a single background loop per process; MarkSent/MarkFailed
// keep a message from being retried before its status settles.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*models.OutboxEmail, error) {
	query := `
		SELECT id, recipient, subject, body, status, attempts, last_error, created_at, sent_at
		FROM email_outbox
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`

	msgs := make([]*models.OutboxEmail, 0)
	if err := r.db.SelectContext(ctx, &msgs, query, models.OutboxStatusPending, limit); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkSent records a successful delivery.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE email_outbox
		SET status = $2, sent_at = $3, last_error = NULL
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, models.OutboxStatusSent, time.Now())
	return err
}

// MarkFailed records a delivery failure. The message stays pending until
// attempts reaches maxAttempts, after which it is parked as failed and left
// for operator attention.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, sendErr error, maxAttempts int) error {
	query := `
		UPDATE email_outbox
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE status END
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, sendErr.Error(), maxAttempts, models.OutboxStatusFailed)
	return err
}
