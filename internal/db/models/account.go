// Package models - account.go defines the Account model, the member identity
// record: email-based login credential, profile names, permission flags, and
// verification state. It also implements the audit.TrackedEntity shape via
// AuditFields so every account mutation can be diffed field by field.
package models

import "time"

// Account represents one registered member of the group.
type Account struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	// PasswordHash is the bcrypt credential. Never serialized and never
	// included in audit diffs.
	PasswordHash  string     `json:"-"`
	IsActive      bool       `json:"is_active"`
	IsStaff       bool       `json:"is_staff"`
	IsSuperuser   bool       `json:"is_superuser"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EntityType identifies accounts in audit log entries.
func (a *Account) EntityType() string { return "account" }

// EntityID is the audit entity reference. It is a plain string so the audit
// entry survives deletion of the account row.
func (a *Account) EntityID() string { return a.ID }

// AuditFields returns the auditable state of the account. The password hash is
// deliberately absent: a credential change is recorded via the synthetic
// "password" marker field instead of exposing hash material in the log.
func (a *Account) AuditFields() map[string]any {
	return map[string]any{
		"email":          a.Email,
		"first_name":     a.FirstName,
		"last_name":      a.LastName,
		"is_active":      a.IsActive,
		"is_staff":       a.IsStaff,
		"is_superuser":   a.IsSuperuser,
		"email_verified": a.EmailVerified,
	}
}

// FullName returns the display name, falling back to the email address when
// no name fields are set.
func (a *Account) FullName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.FirstName != "":
		return a.FirstName
	case a.LastName != "":
		return a.LastName
	default:
		return a.Email
	}
}

// IsAdmin reports whether the account may use the admin surface at all.
// Superusers are implicitly staff.
func (a *Account) IsAdmin() bool {
	return a.IsStaff || a.IsSuperuser
}
