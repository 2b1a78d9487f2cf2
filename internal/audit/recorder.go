// Package audit implements the audit recorder: every create, update, and
// delete of a tracked entity produces one immutable AuditLogEntry with a
// field-level before/after diff. The database row is written on the same
// transaction as the change it records, so an entry exists exactly when the
// change committed. Shipping to external destinations (file, webhook) is a
// best-effort copy on top of the committed row, never a substitute for it.
package audit

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/jmoiron/sqlx"

	"github.com/memberbase/memberbase/internal/db/models"
	"github.com/memberbase/memberbase/internal/db/repositories"
	"github.com/memberbase/memberbase/internal/safego"
	"github.com/memberbase/memberbase/internal/telemetry"
)

// TrackedEntity is implemented by any model whose changes are audited. The
// AuditFields map drives diff computation; implementations must exclude
// credential material from it.
type TrackedEntity interface {
	EntityType() string
	EntityID() string
	AuditFields() map[string]any
}

// RequestMeta carries request-origin metadata into an audit entry. Zero value
// means a system action with no HTTP request behind it.
type RequestMeta struct {
	ActorID   *string
	IPAddress *string
	RequestID *string
}

// Recorder writes audit entries through the repository and fans committed
// entries out to configured shippers.
type Recorder struct {
	repo    *repositories.AuditRepository
	shipper Shipper
	logger  *slog.Logger
}

// NewRecorder creates a Recorder. shipper may be nil when no export is
// configured.
func NewRecorder(repo *repositories.AuditRepository, shipper Shipper, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, shipper: shipper, logger: logger}
}

// RecordCreate writes a create entry on ext: every audit field appears in the
// diff with Before == nil.
func (r *Recorder) RecordCreate(ctx context.Context, ext sqlx.ExtContext, entity TrackedEntity, meta RequestMeta) error {
	diff := make(map[string]models.FieldChange)
	for field, value := range entity.AuditFields() {
		diff[field] = models.FieldChange{Before: nil, After: value}
	}
	return r.record(ctx, ext, entity, models.AuditActionCreate, diff, meta)
}

// RecordUpdate writes an update entry on ext containing only the fields whose
// value actually changed between before and after. If nothing changed, no
// entry is written and nil is returned.
func (r *Recorder) RecordUpdate(ctx context.Context, ext sqlx.ExtContext, before, after TrackedEntity, meta RequestMeta) error {
	beforeFields := before.AuditFields()
	diff := make(map[string]models.FieldChange)
	for field, afterValue := range after.AuditFields() {
		beforeValue := beforeFields[field]
		if !reflect.DeepEqual(beforeValue, afterValue) {
			diff[field] = models.FieldChange{Before: beforeValue, After: afterValue}
		}
	}
	if len(diff) == 0 {
		return nil
	}
	return r.record(ctx, ext, after, models.AuditActionUpdate, diff, meta)
}

// RecordDelete writes a delete entry on ext: every audit field appears in the
// diff with After == nil, preserving the entity's final state after the row
// itself is gone.
func (r *Recorder) RecordDelete(ctx context.Context, ext sqlx.ExtContext, entity TrackedEntity, meta RequestMeta) error {
	diff := make(map[string]models.FieldChange)
	for field, value := range entity.AuditFields() {
		diff[field] = models.FieldChange{Before: value, After: nil}
	}
	return r.record(ctx, ext, entity, models.AuditActionDelete, diff, meta)
}

// PasswordChangedDiff is the synthetic diff recorded for a credential change.
// The hash itself never enters the log; the entry only proves that the
// credential was rotated, when, and by whom.
func PasswordChangedDiff() map[string]models.FieldChange {
	return map[string]models.FieldChange{
		"password": {Before: "[redacted]", After: "[redacted]"},
	}
}

// Record writes an update entry with a caller-provided diff. Used for changes
// whose diff cannot be derived from AuditFields, such as credential rotation.
func (r *Recorder) Record(ctx context.Context, ext sqlx.ExtContext, entity TrackedEntity, diff map[string]models.FieldChange, meta RequestMeta) error {
	return r.record(ctx, ext, entity, models.AuditActionUpdate, diff, meta)
}

func (r *Recorder) record(ctx context.Context, ext sqlx.ExtContext, entity TrackedEntity, action string, diff map[string]models.FieldChange, meta RequestMeta) error {
	entry := &models.AuditLogEntry{
		EntityType: entity.EntityType(),
		EntityID:   entity.EntityID(),
		Action:     action,
		ActorID:    meta.ActorID,
		Diff:       diff,
		IPAddress:  meta.IPAddress,
		RequestID:  meta.RequestID,
	}

	if err := r.repo.CreateEntry(ctx, ext, entry); err != nil {
		return err
	}

	telemetry.AuditEntriesTotal.WithLabelValues(entry.EntityType, entry.Action).Inc()

	if r.shipper != nil {
		// Shipping must not delay or fail the caller's transaction. The shipped
		// copy can be lost if the transaction later rolls back; the shipped
		// stream is advisory, the table is the record.
		shipped := *entry
		safego.Go(func() {
			if err := r.shipper.Ship(context.Background(), &shipped); err != nil {
				r.logger.Warn("audit shipper failed", "entry_id", shipped.ID, "error", err)
			}
		})
	}

	return nil
}
