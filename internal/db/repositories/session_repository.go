// session_repository.go implements SessionRepository, the server-side session
// store behind issued session tokens. A token is only as valid as its row:
// revoking the row (logout) invalidates the token immediately regardless of
// the JWT's own expiry.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/memberbase/memberbase/internal/db/models"
)

// SessionRepository handles session database operations
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// WithTx returns a copy of the repository bound to tx, so a sequence of calls
// shares one transaction.
func (r *SessionRepository) WithTx(tx DBTX) *SessionRepository {
	return &SessionRepository{db: tx}
}

// Create inserts a new session for an account.
func (r *SessionRepository) Create(ctx context.Context, accountID string, expiresAt time.Time) (*models.Session, error) {
	session := &models.Session{
		ID:        uuid.New().String(),
		AccountID: accountID,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	query := `
		INSERT INTO sessions (id, account_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.AccountID,
		session.CreatedAt,
		session.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// Get retrieves a session by ID. Returns (nil, nil) when absent.
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, account_id, created_at, expires_at, revoked_at
		FROM sessions
		WHERE id = $1
	`

	session := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.AccountID,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.RevokedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return session, nil
}

// Revoke marks a session as revoked. Revoking an already-revoked session is a
// no-op.
func (r *SessionRepository) Revoke(ctx context.Context, id string) error {
	query := `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	return err
}

// RevokeAllForAccount revokes every live session of an account. Used when an
// administrator deactivates or deletes the account.
func (r *SessionRepository) RevokeAllForAccount(ctx context.Context, accountID string) error {
	query := `UPDATE sessions SET revoked_at = $2 WHERE account_id = $1 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, accountID, time.Now())
	return err
}

// RevokeAllExcept revokes every live session of an account except one, which
// survives. Used on password change so the changing session stays logged in.
func (r *SessionRepository) RevokeAllExcept(ctx context.Context, accountID, keepID string) error {
	query := `UPDATE sessions SET revoked_at = $3 WHERE account_id = $1 AND id <> $2 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, accountID, keepID, time.Now())
	return err
}

// DeleteExpired removes sessions that expired before cutoff. Housekeeping;
// correctness never depends on it because Get checks expiry.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
