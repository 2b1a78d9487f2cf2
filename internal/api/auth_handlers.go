// auth_handlers.go implements the public authentication endpoints and the
// authenticated self-service profile endpoints.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/memberbase/memberbase/internal/auth"
	"github.com/memberbase/memberbase/internal/config"
	"github.com/memberbase/memberbase/internal/middleware"
	"github.com/memberbase/memberbase/internal/services"
)

// AuthHandlers handles registration, login, verification, and the /me surface.
type AuthHandlers struct {
	svc *services.AccountService
	cfg *config.Config
}

// NewAuthHandlers creates a new AuthHandlers instance.
func NewAuthHandlers(svc *services.AccountService, cfg *config.Config) *AuthHandlers {
	return &AuthHandlers{svc: svc, cfg: cfg}
}

// RegisterRequest is the payload for self-service registration.
type RegisterRequest struct {
	Email     string `json:"email" binding:"required"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Password  string `json:"password" binding:"required"`
}

// RegisterHandler creates a new member account and queues the verification
// email.
// POST /api/v1/auth/register
func (h *AuthHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		account, err := h.svc.Register(c.Request.Context(), services.RegisterInput{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Password:  req.Password,
		}, middleware.RequestMeta(c))
		if err != nil {
			h.writeServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"account": account})
	}
}

// LoginRequest is the payload for password login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginHandler authenticates an email/password pair and returns a session
// token.
// POST /api/v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		result, err := h.svc.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP())
		if err != nil {
			h.writeServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      result.Token,
			"expires_at": result.ExpiresAt,
			"account":    result.Account,
		})
	}
}

// VerifyHandler consumes an email-verification token. It is a GET because the
// token arrives as a link in the verification email.
// GET /api/v1/auth/verify?token=...
func (h *AuthHandlers) VerifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token query parameter is required"})
			return
		}

		account, err := h.svc.Verify(c.Request.Context(), token)
		if err != nil {
			h.writeServiceError(c, err)
			return
		}
		if account == nil {
			// Token was valid but the address is already verified; repeat
			// clicks on the same link are not an error.
			c.JSON(http.StatusOK, gin.H{"status": "already_verified"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "verified", "account": account})
	}
}

// ResendVerificationRequest is the payload for requesting a fresh
// verification email.
type ResendVerificationRequest struct {
	Email string `json:"email" binding:"required"`
}

// ResendVerificationHandler queues a fresh verification email. The response
// is identical whether or not the address exists, so the endpoint cannot be
// used to probe for registered emails.
// POST /api/v1/auth/resend-verification
func (h *AuthHandlers) ResendVerificationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResendVerificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if err := h.svc.ResendVerification(c.Request.Context(), req.Email); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process request"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"detail": "if the address is registered and unverified, a new verification email has been sent",
		})
	}
}

// LogoutHandler revokes the current session server-side. The token itself
// becomes useless immediately even though it has not expired.
// POST /api/v1/auth/logout
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetString(middleware.SessionIDKey)
		if err := h.svc.Logout(c.Request.Context(), sessionID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log out"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
	}
}

// MeHandler returns the authenticated member's own account.
// GET /api/v1/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"account": middleware.CurrentAccount(c)})
	}
}

// UpdateMeRequest is the payload for a member's own profile edit. Only name
// fields are self-service; email and role changes go through an admin.
type UpdateMeRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// UpdateMeHandler applies a member's own profile edit.
// PUT /api/v1/me
func (h *AuthHandlers) UpdateMeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateMeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		account, err := h.svc.UpdateProfile(c.Request.Context(), c.GetString(middleware.AccountIDKey), services.ProfileUpdate{
			FirstName: req.FirstName,
			LastName:  req.LastName,
		}, middleware.RequestMeta(c))
		if err != nil {
			h.writeServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"account": account})
	}
}

// DeleteMeHandler removes the member's own account.
// DELETE /api/v1/me
func (h *AuthHandlers) DeleteMeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.svc.DeleteSelf(c.Request.Context(), c.GetString(middleware.AccountIDKey), middleware.RequestMeta(c)); err != nil {
			h.writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}

// ChangePasswordRequest is the payload for a member's own password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// ChangePasswordHandler rotates the member's password. All other sessions are
// revoked; the session making the request stays valid.
// POST /api/v1/me/password
func (h *AuthHandlers) ChangePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ChangePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		err := h.svc.ChangePassword(
			c.Request.Context(),
			c.GetString(middleware.AccountIDKey),
			req.CurrentPassword,
			req.NewPassword,
			c.GetString(middleware.SessionIDKey),
			middleware.RequestMeta(c),
		)
		if err != nil {
			h.writeServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "password_changed"})
	}
}

// writeServiceError maps service-layer sentinel errors onto HTTP responses.
// Unknown errors become opaque 500s; internals are never echoed to clients.
func (h *AuthHandlers) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": "an account with this email already exists"})
	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
	case errors.Is(err, services.ErrAccountNotVerified):
		c.JSON(http.StatusForbidden, gin.H{"error": "email address not verified"})
	case errors.Is(err, services.ErrLoginThrottled):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed attempts, try again later"})
	case errors.Is(err, services.ErrInvalidOrExpiredToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired token"})
	case errors.Is(err, services.ErrSignupClosed):
		c.JSON(http.StatusForbidden, gin.H{"error": "public registration is disabled"})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "operation not permitted"})
	case errors.Is(err, services.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email address"})
	case errors.Is(err, auth.ErrPasswordTooShort):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
