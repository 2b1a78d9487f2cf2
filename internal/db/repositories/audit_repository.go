// audit_repository.go implements AuditRepository, the persistence layer for
// audit log entries. Writes go through CreateEntry on a caller-supplied
// executor so the entry lands in the same transaction as the change it
// records; there are deliberately no update or delete operations — the table
// is append-only.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/memberbase/memberbase/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	EntityType *string
	EntityID   *string
	ActorID    *string
	Action     *string
	StartDate  *time.Time
	EndDate    *time.Time
}

// CreateEntry inserts one audit entry using ext, which is either the
// repository's own handle or — on every state-changing code path — the open
// transaction of the change being recorded. If the insert fails the caller's
// transaction fails with it: no change without its audit entry.
func (r *AuditRepository) CreateEntry(ctx context.Context, ext sqlx.ExtContext, entry *models.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	diffJSON, err := json.Marshal(entry.Diff)
	if err != nil {
		return fmt.Errorf("failed to marshal audit diff: %w", err)
	}

	query := `
		INSERT INTO audit_logs (id, entity_type, entity_id, action, actor_id, diff, ip_address, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = ext.ExecContext(ctx, query,
		entry.ID,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		entry.ActorID,
		diffJSON,
		entry.IPAddress,
		entry.RequestID,
		entry.CreatedAt,
	)

	return err
}

// DB exposes the underlying handle for callers that need to pass a
// non-transactional executor to CreateEntry.
func (r *AuditRepository) DB() sqlx.ExtContext {
	return r.db
}

// List retrieves audit entries with optional filters and pagination, newest
// first, plus the total count matching the filters.
func (r *AuditRepository) List(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLogEntry, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	query := `
		SELECT id, entity_type, entity_id, action, actor_id, diff, ip_address, request_id, created_at
		FROM audit_logs
		WHERE 1=1
	`

	args := make([]any, 0)
	paramIndex := 1

	addFilter := func(clause string, value any) {
		cond := fmt.Sprintf(clause, paramIndex)
		countQuery += cond
		query += cond
		args = append(args, value)
		paramIndex++
	}

	if filters.EntityType != nil {
		addFilter(` AND entity_type = $%d`, *filters.EntityType)
	}
	if filters.EntityID != nil {
		addFilter(` AND entity_id = $%d`, *filters.EntityID)
	}
	if filters.ActorID != nil {
		addFilter(` AND actor_id = $%d`, *filters.ActorID)
	}
	if filters.Action != nil {
		addFilter(` AND action = $%d`, *filters.Action)
	}
	if filters.StartDate != nil {
		addFilter(` AND created_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		addFilter(` AND created_at <= $%d`, *filters.EndDate)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}

	return entries, total, rows.Err()
}

// Get retrieves a single audit entry by ID. Returns (nil, nil) when absent.
func (r *AuditRepository) Get(ctx context.Context, id string) (*models.AuditLogEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, actor_id, diff, ip_address, request_id, created_at
		FROM audit_logs
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)
	entry, err := scanAuditEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

func scanAuditEntry(row interface{ Scan(...any) error }) (*models.AuditLogEntry, error) {
	entry := &models.AuditLogEntry{}
	var diffJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.EntityType,
		&entry.EntityID,
		&entry.Action,
		&entry.ActorID,
		&diffJSON,
		&entry.IPAddress,
		&entry.RequestID,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(diffJSON) > 0 {
		if err := json.Unmarshal(diffJSON, &entry.Diff); err != nil {
			return nil, err
		}
	}

	return entry, nil
}
