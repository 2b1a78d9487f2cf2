package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/memberbase/memberbase/internal/audit"
	"github.com/memberbase/memberbase/internal/auth"
	"github.com/memberbase/memberbase/internal/config"
	"github.com/memberbase/memberbase/internal/db/models"
	"github.com/memberbase/memberbase/internal/db/repositories"
	"github.com/memberbase/memberbase/internal/telemetry"
)

// AccountService implements account lifecycle and authentication operations.
type AccountService struct {
	db       *sqlx.DB
	accounts *repositories.AccountRepository
	sessions *repositories.SessionRepository
	outbox   *repositories.OutboxRepository
	recorder *audit.Recorder
	tokens   *auth.TokenManager
	throttle *auth.LoginThrottle
	cfg      *config.Config
	logger   *slog.Logger
}

// NewAccountService wires an AccountService from its dependencies.
func NewAccountService(
	db *sqlx.DB,
	accounts *repositories.AccountRepository,
	sessions *repositories.SessionRepository,
	outbox *repositories.OutboxRepository,
	recorder *audit.Recorder,
	tokens *auth.TokenManager,
	throttle *auth.LoginThrottle,
	cfg *config.Config,
	logger *slog.Logger,
) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		db:       db,
		accounts: accounts,
		sessions: sessions,
		outbox:   outbox,
		recorder: recorder,
		tokens:   tokens,
		throttle: throttle,
		cfg:      cfg,
		logger:   logger,
	}
}

// ---------------------------------------------------------------------------
// Registration and verification
// ---------------------------------------------------------------------------

// RegisterInput is the payload for self-service registration.
type RegisterInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// Register creates a new unverified account and queues the verification email.
// The account row, its audit entry, and the queued email commit in one
// transaction. The audit actor is the new account itself: self-registration
// has no other actor.
func (s *AccountService) Register(ctx context.Context, input RegisterInput, meta audit.RequestMeta) (*models.Account, error) {
	if !s.cfg.Auth.AllowPublicSignup {
		return nil, ErrSignupClosed
	}
	if err := validateEmail(input.Email); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Email:        strings.TrimSpace(input.Email),
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		PasswordHash: hash,
		IsActive:     true,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.accounts.WithTx(tx).Create(ctx, account); err != nil {
		if repositories.IsUniqueViolation(err) {
			telemetry.RegistrationsTotal.WithLabelValues("duplicate").Inc()
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	meta.ActorID = &account.ID
	if err := s.recorder.RecordCreate(ctx, tx, account, meta); err != nil {
		return nil, err
	}

	if err := s.queueVerificationEmail(ctx, tx, account); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}

	telemetry.RegistrationsTotal.WithLabelValues("success").Inc()
	s.logger.Info("account registered", "account_id", account.ID)
	return account, nil
}

// queueVerificationEmail enqueues the verification email on the caller's
// transaction. Skipped when notifications are disabled; the verify endpoint
// still works with a token obtained another way (admin handout, test setups).
func (s *AccountService) queueVerificationEmail(ctx context.Context, ext sqlx.ExtContext, account *models.Account) error {
	if !s.cfg.Notifications.Enabled {
		return nil
	}

	token, err := s.tokens.IssueVerificationToken(account.ID, account.Email, s.cfg.Auth.VerificationTokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue verification token: %w", err)
	}

	link := fmt.Sprintf("%s/api/v1/auth/verify?token=%s", s.cfg.Server.GetPublicURL(), url.QueryEscape(token))
	subject := "Confirm your email address"
	body := strings.Join([]string{
		fmt.Sprintf("Hello %s,", account.FullName()),
		"",
		"Please confirm your email address by opening the link below:",
		"",
		"  " + link,
		"",
		fmt.Sprintf("The link is valid for %s. If you did not create this account, ignore this message.",
			s.cfg.Auth.VerificationTokenTTL),
	}, "\r\n")

	_, err = s.outbox.Enqueue(ctx, ext, account.Email, subject, body)
	return err
}

// ResendVerification queues a fresh verification email for an unverified
// account. Responds identically whether or not the address exists, so the
// endpoint cannot be used to probe registrations.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if account == nil || account.EmailVerified || !account.IsActive {
		return nil
	}
	return s.queueVerificationEmail(ctx, s.db, account)
}

// Verify consumes an email-verification token and marks the account verified.
// Verifying an already-verified account is a no-op success, so a re-clicked
// link never shows the user an error.
func (s *AccountService) Verify(ctx context.Context, token string) (*models.Account, error) {
	claims, err := s.tokens.ParseVerificationToken(token)
	if err != nil {
		telemetry.VerificationsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidOrExpiredToken
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		telemetry.VerificationsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidOrExpiredToken
	}

	if account.EmailVerified {
		telemetry.VerificationsTotal.WithLabelValues("already_verified").Inc()
		return account, nil
	}

	before := *account
	account.EmailVerified = true

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.accounts.WithTx(tx).SetVerified(ctx, account.ID); err != nil {
		return nil, err
	}

	meta := audit.RequestMeta{ActorID: &account.ID}
	if err := s.recorder.RecordUpdate(ctx, tx, &before, account, meta); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit verification: %w", err)
	}

	telemetry.VerificationsTotal.WithLabelValues("success").Inc()
	s.logger.Info("email verified", "account_id", account.ID)
	return account, nil
}

// ---------------------------------------------------------------------------
// Login and logout
// ---------------------------------------------------------------------------

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Account   *models.Account
}

// Login authenticates an email/password pair from sourceIP and issues a
// session token bound to a new server-side session row.
func (s *AccountService) Login(ctx context.Context, email, password, sourceIP string) (*LoginResult, error) {
	if !s.throttle.Allow(email, sourceIP) {
		telemetry.LoginsTotal.WithLabelValues("throttled").Inc()
		return nil, ErrLoginThrottled
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		// Burn comparable time on a throwaway hash so the unknown-email path
		// is not measurably faster than a wrong password.
		_, _ = auth.CheckPassword("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy", password)
		s.throttle.RecordFailure(email, sourceIP)
		telemetry.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	ok, err := auth.CheckPassword(account.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.throttle.RecordFailure(email, sourceIP)
		telemetry.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	if !account.IsActive {
		// A deactivated account gets the same answer as a wrong password.
		telemetry.LoginsTotal.WithLabelValues("inactive").Inc()
		return nil, ErrInvalidCredentials
	}

	if s.cfg.Auth.RequireVerifiedEmail && !account.EmailVerified {
		telemetry.LoginsTotal.WithLabelValues("unverified").Inc()
		return nil, ErrAccountNotVerified
	}

	expiresAt := time.Now().Add(s.cfg.Auth.SessionTimeout)
	session, err := s.sessions.Create(ctx, account.ID, expiresAt)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.IssueSessionToken(account.ID, account.Email, session.ID, s.cfg.Auth.SessionTimeout)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.accounts.SetLastLogin(ctx, account.ID, now); err != nil {
		// Not worth failing the login over; the session is already valid.
		s.logger.Warn("failed to stamp last login", "account_id", account.ID, "error", err)
	}
	account.LastLoginAt = &now

	s.throttle.RecordSuccess(email, sourceIP)
	telemetry.LoginsTotal.WithLabelValues("success").Inc()
	s.logger.Info("login", "account_id", account.ID)

	return &LoginResult{Token: token, ExpiresAt: expiresAt, Account: account}, nil
}

// Logout revokes the session behind a token. Revoking an already-revoked or
// unknown session succeeds: logout is idempotent.
func (s *AccountService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Revoke(ctx, sessionID)
}

// ---------------------------------------------------------------------------
// Self-service profile
// ---------------------------------------------------------------------------

// GetAccount loads an account by ID, returning ErrNotFound when absent.
func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrNotFound
	}
	return account, nil
}

// ProfileUpdate carries the self-editable profile fields. Nil means leave the
// field unchanged.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
}

// UpdateProfile applies a member's own profile edit.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID string, input ProfileUpdate, meta audit.RequestMeta) (*models.Account, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	before := *account
	if input.FirstName != nil {
		account.FirstName = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		account.LastName = strings.TrimSpace(*input.LastName)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.accounts.WithTx(tx).Update(ctx, account); err != nil {
		return nil, err
	}
	meta.ActorID = &account.ID
	if err := s.recorder.RecordUpdate(ctx, tx, &before, account, meta); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit profile update: %w", err)
	}
	return account, nil
}

// ChangePassword rotates a member's own credential after verifying the
// current one. All other sessions are revoked; the caller's session stays.
func (s *AccountService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword, keepSessionID string, meta audit.RequestMeta) error {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := auth.CheckPassword(account.PasswordHash, currentPassword)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	account.PasswordHash = hash

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.accounts.WithTx(tx).Update(ctx, account); err != nil {
		return err
	}
	meta.ActorID = &account.ID
	if err := s.recorder.Record(ctx, tx, account, audit.PasswordChangedDiff(), meta); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit password change: %w", err)
	}

	// Out of tx: losing this revocation on a crash leaves stale sessions that
	// still expire on their own.
	if err := s.sessions.RevokeAllExcept(ctx, accountID, keepSessionID); err != nil {
		s.logger.Warn("failed to revoke sessions after password change", "account_id", accountID, "error", err)
	}

	s.logger.Info("password changed", "account_id", accountID)
	return nil
}

// DeleteSelf removes a member's own account. The delete entry keeps the final
// state of the row; sessions go with the row via the foreign key.
func (s *AccountService) DeleteSelf(ctx context.Context, accountID string, meta audit.RequestMeta) error {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	meta.ActorID = &account.ID
	if err := s.recorder.RecordDelete(ctx, tx, account, meta); err != nil {
		return err
	}
	if err := s.accounts.WithTx(tx).Delete(ctx, account.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account deletion: %w", err)
	}

	s.logger.Info("account deleted", "account_id", accountID, "by", "self")
	return nil
}

// ---------------------------------------------------------------------------
// Admin operations
// ---------------------------------------------------------------------------

// AdminCreateInput is the payload for admin-created accounts. Unlike public
// registration it can set flags and skip verification outright.
type AdminCreateInput struct {
	Email         string
	FirstName     string
	LastName      string
	Password      string
	IsActive      bool
	IsStaff       bool
	IsSuperuser   bool
	EmailVerified bool
}

// AdminCreateAccount creates an account on behalf of an administrator. The
// audit actor comes from meta (the admin), not the new account.
func (s *AccountService) AdminCreateAccount(ctx context.Context, input AdminCreateInput, meta audit.RequestMeta) (*models.Account, error) {
	if err := validateEmail(input.Email); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Email:         strings.TrimSpace(input.Email),
		FirstName:     strings.TrimSpace(input.FirstName),
		LastName:      strings.TrimSpace(input.LastName),
		PasswordHash:  hash,
		IsActive:      input.IsActive,
		IsStaff:       input.IsStaff,
		IsSuperuser:   input.IsSuperuser,
		EmailVerified: input.EmailVerified,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.accounts.WithTx(tx).Create(ctx, account); err != nil {
		if repositories.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	if err := s.recorder.RecordCreate(ctx, tx, account, meta); err != nil {
		return nil, err
	}
	if !account.EmailVerified {
		if err := s.queueVerificationEmail(ctx, tx, account); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit account creation: %w", err)
	}
	return account, nil
}

// AdminUpdateInput carries admin-editable account fields. Nil means leave the
// field unchanged; Password, when set, rotates the credential.
type AdminUpdateInput struct {
	Email         *string
	FirstName     *string
	LastName      *string
	Password      *string
	IsActive      *bool
	IsStaff       *bool
	IsSuperuser   *bool
	EmailVerified *bool
}

// AdminUpdateAccount applies an administrator's edit to any account.
// Deactivating an account revokes its live sessions in the same transaction.
func (s *AccountService) AdminUpdateAccount(ctx context.Context, id string, input AdminUpdateInput, meta audit.RequestMeta) (*models.Account, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	before := *account
	passwordChanged := false

	if input.Email != nil {
		if err := validateEmail(*input.Email); err != nil {
			return nil, err
		}
		account.Email = strings.TrimSpace(*input.Email)
	}
	if input.FirstName != nil {
		account.FirstName = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		account.LastName = strings.TrimSpace(*input.LastName)
	}
	if input.Password != nil {
		hash, err := auth.HashPassword(*input.Password)
		if err != nil {
			return nil, err
		}
		account.PasswordHash = hash
		passwordChanged = true
	}
	if input.IsActive != nil {
		account.IsActive = *input.IsActive
	}
	if input.IsStaff != nil {
		account.IsStaff = *input.IsStaff
	}
	if input.IsSuperuser != nil {
		account.IsSuperuser = *input.IsSuperuser
	}
	if input.EmailVerified != nil {
		account.EmailVerified = *input.EmailVerified
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.accounts.WithTx(tx).Update(ctx, account); err != nil {
		if repositories.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	if err := s.recorder.RecordUpdate(ctx, tx, &before, account, meta); err != nil {
		return nil, err
	}
	if passwordChanged {
		if err := s.recorder.Record(ctx, tx, account, audit.PasswordChangedDiff(), meta); err != nil {
			return nil, err
		}
	}

	deactivated := before.IsActive && !account.IsActive
	if deactivated || passwordChanged {
		if err := s.sessions.WithTx(tx).RevokeAllForAccount(ctx, account.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit account update: %w", err)
	}
	return account, nil
}

// AdminDeleteAccount removes any account on behalf of an administrator.
func (s *AccountService) AdminDeleteAccount(ctx context.Context, id string, meta audit.RequestMeta) error {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.recorder.RecordDelete(ctx, tx, account, meta); err != nil {
		return err
	}
	if err := s.accounts.WithTx(tx).Delete(ctx, account.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account deletion: %w", err)
	}

	s.logger.Info("account deleted", "account_id", id, "actor", ptrOrEmpty(meta.ActorID))
	return nil
}

// ListAccounts returns a page of accounts plus the total count.
func (s *AccountService) ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, int, error) {
	return s.accounts.List(ctx, limit, offset)
}

// SearchAccounts finds accounts by email or name fragment.
func (s *AccountService) SearchAccounts(ctx context.Context, query string, limit, offset int) ([]*models.Account, error) {
	return s.accounts.Search(ctx, query, limit, offset)
}

// GetStats returns aggregate account counts for the admin dashboard.
func (s *AccountService) GetStats(ctx context.Context) (*repositories.AccountStats, error) {
	return s.accounts.GetStats(ctx)
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

// NeedsBootstrap reports whether first-run setup is still open: true until the
// first superuser exists.
func (s *AccountService) NeedsBootstrap(ctx context.Context) (bool, error) {
	n, err := s.accounts.CountSuperusers(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Bootstrap creates the first superuser. Refused once any superuser exists,
// so the endpoint is inert on every instance after initial setup.
func (s *AccountService) Bootstrap(ctx context.Context, input RegisterInput, meta audit.RequestMeta) (*models.Account, error) {
	open, err := s.NeedsBootstrap(ctx)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, ErrForbidden
	}

	account, err := s.AdminCreateAccount(ctx, AdminCreateInput{
		Email:         input.Email,
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		Password:      input.Password,
		IsActive:      true,
		IsStaff:       true,
		IsSuperuser:   true,
		EmailVerified: true,
	}, meta)
	if err != nil {
		return nil, err
	}

	s.logger.Info("bootstrap superuser created", "account_id", account.ID)
	return account, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return ErrInvalidEmail
	}
	return nil
}

func ptrOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
