// Package services implements the business logic of memberbase: account
// lifecycle, authentication, and the admin operations over both. Every
// state-changing operation runs in one database transaction together with its
// audit entry, so a change and its record commit or roll back as a unit.
package services

import "errors"

// Sentinel errors returned by the service layer. Handlers map these to HTTP
// status codes; anything else is a 500.
var (
	// ErrDuplicateEmail means the email address is already registered.
	ErrDuplicateEmail = errors.New("email address is already registered")

	// ErrInvalidCredentials covers unknown email, wrong password, and
	// deactivated accounts. One error for all three so login responses cannot
	// be used to probe which addresses exist.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountNotVerified means the credentials were correct but the email
	// address has not been verified yet.
	ErrAccountNotVerified = errors.New("email address has not been verified")

	// ErrLoginThrottled means this email/source pair has exceeded the failed
	// attempt limit and must wait out the cooldown.
	ErrLoginThrottled = errors.New("too many failed login attempts")

	// ErrInvalidOrExpiredToken covers every verification token failure mode.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// ErrInvalidEmail means the supplied address is not a plain RFC 5322
	// address.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrNotFound means the requested account does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrSignupClosed means public self-registration is disabled.
	ErrSignupClosed = errors.New("public registration is disabled")

	// ErrForbidden means the acting account lacks permission for the
	// operation.
	ErrForbidden = errors.New("operation not permitted")
)
