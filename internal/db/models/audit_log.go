// Package models - audit_log.go defines the AuditLogEntry model: an immutable,
// append-only record of one state change to a tracked entity, carrying the
// actor, a field-level before/after diff, and request-origin metadata.
package models

import "time"

// Audit actions. One entry is written per state-changing operation.
const (
	AuditActionCreate = "create"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"
)

// FieldChange holds the before and after value of a single changed field.
// Create entries have Before == nil for every field; delete entries have
// After == nil.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// AuditLogEntry is one immutable audit record. Entries reference the affected
// entity by type + id (a weak reference that survives entity deletion) and
// optionally the acting account (nil for system actions).
type AuditLogEntry struct {
	ID         string                 `json:"id"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Action     string                 `json:"action"`
	ActorID    *string                `json:"actor_id,omitempty"`
	Diff       map[string]FieldChange `json:"diff"`
	IPAddress  *string                `json:"ip_address,omitempty"`
	RequestID  *string                `json:"request_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
