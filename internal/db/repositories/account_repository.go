// Package repositories implements the data access layer (repository pattern)
// for memberbase. Each repository type encapsulates all database queries for a
// domain entity. Services and handlers never issue SQL directly — all database
// access goes through this layer, which keeps query logic testable in
// isolation and prevents accidental cross-domain data access.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/memberbase/memberbase/internal/db/models"
)

// DBTX is the subset of *sql.DB and *sql.Tx the account and session
// repositories need. Accepting the interface lets a service run repository
// calls inside its own transaction (audit entry and entity change in one
// atomic unit) without the repository knowing about transaction management.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation. The email uniqueness race between two concurrent registrations is
// closed by the accounts_email_uniq index, and this is how the loser's error
// is recognized.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// AccountRepository handles account database operations
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// WithTx returns a copy of the repository bound to tx, so a sequence of calls
// shares one transaction.
func (r *AccountRepository) WithTx(tx DBTX) *AccountRepository {
	return &AccountRepository{db: tx}
}

const accountColumns = `id, email, first_name, last_name, password_hash, is_active, is_staff, is_superuser, email_verified, last_login_at, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.FirstName,
		&a.LastName,
		&a.PasswordHash,
		&a.IsActive,
		&a.IsStaff,
		&a.IsSuperuser,
		&a.EmailVerified,
		&a.LastLoginAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new account. The caller must have hashed the password
// already; this layer never sees clear-text credentials.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt

	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.FirstName,
		account.LastName,
		account.PasswordHash,
		account.IsActive,
		account.IsStaff,
		account.IsSuperuser,
		account.EmailVerified,
		account.LastLoginAt,
		account.CreatedAt,
		account.UpdatedAt,
	)

	return err
}

// GetByID retrieves an account by ID. Returns (nil, nil) when absent.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves an account by email, matched case-insensitively since
// email is the login credential. Returns (nil, nil) when absent.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`
	return scanAccount(r.db.QueryRowContext(ctx, query, email))
}

// Update writes all mutable account fields.
func (r *AccountRepository) Update(ctx context.Context, account *models.Account) error {
	account.UpdatedAt = time.Now()

	query := `
		UPDATE accounts
		SET email = $2, first_name = $3, last_name = $4, password_hash = $5,
		    is_active = $6, is_staff = $7, is_superuser = $8, email_verified = $9,
		    updated_at = $10
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.FirstName,
		account.LastName,
		account.PasswordHash,
		account.IsActive,
		account.IsStaff,
		account.IsSuperuser,
		account.EmailVerified,
		account.UpdatedAt,
	)

	return err
}

// Delete removes an account (cascades to sessions; audit entries keep their
// weak reference).
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM accounts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// SetVerified marks the account's email as verified.
func (r *AccountRepository) SetVerified(ctx context.Context, id string) error {
	query := `UPDATE accounts SET email_verified = TRUE, updated_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	return err
}

// SetLastLogin stamps the account's last successful login.
func (r *AccountRepository) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE accounts SET last_login_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, at)
	return err
}

// List retrieves a paginated list of accounts plus the total count.
func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*models.Account, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}

	return accounts, total, rows.Err()
}

// Search finds accounts by email or name fragment.
func (r *AccountRepository) Search(ctx context.Context, query string, limit, offset int) ([]*models.Account, error) {
	searchQuery := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE email ILIKE $1 OR first_name ILIKE $1 OR last_name ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	searchPattern := "%" + query + "%"
	rows, err := r.db.QueryContext(ctx, searchQuery, searchPattern, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

// Count returns the total number of accounts.
func (r *AccountRepository) Count(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&total)
	return total, err
}

// Stats summarizes account state for the admin dashboard.
type AccountStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Verified  int `json:"verified"`
	Staff     int `json:"staff"`
	Superuser int `json:"superuser"`
}

// GetStats returns aggregate account counts.
func (r *AccountRepository) GetStats(ctx context.Context) (*AccountStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_active),
		       COUNT(*) FILTER (WHERE email_verified),
		       COUNT(*) FILTER (WHERE is_staff),
		       COUNT(*) FILTER (WHERE is_superuser)
		FROM accounts
	`

	stats := &AccountStats{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Total,
		&stats.Active,
		&stats.Verified,
		&stats.Staff,
		&stats.Superuser,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CountSuperusers returns how many superuser accounts exist. Used by the
// first-run setup endpoint to decide whether bootstrap is still open.
func (r *AccountRepository) CountSuperusers(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE is_superuser`).Scan(&total)
	return total, err
}
