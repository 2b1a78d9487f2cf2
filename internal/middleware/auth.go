// Package middleware provides Gin HTTP middleware for authentication,
// authorization, rate limiting, security headers, and request metadata.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Metrics → Security → Origin → [RateLimit | Auth → RateLimit] → Admin gate → Handler
//
// Security headers run early so they appear on all responses including errors.
// On the public auth routes rate limiting runs before any DB work to blunt
// brute force; on authenticated routes it runs after SessionAuth so buckets key
// on the account rather than the client IP. The admin gates read the identity
// SessionAuth placed in the context.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memberbase/memberbase/internal/auth"
	"github.com/memberbase/memberbase/internal/db/models"
	"github.com/memberbase/memberbase/internal/db/repositories"
)

// Context keys set by SessionAuth.
const (
	AccountKey   = "account"
	AccountIDKey = "account_id"
	SessionIDKey = "session_id"
)

// SessionAuth validates the Bearer session token and loads the account behind
// it. A token is only accepted when its server-side session row is live: the
// signature check alone is not enough, so logout and admin revocation take
// effect immediately.
func SessionAuth(tokens *auth.TokenManager, sessions *repositories.SessionRepository, accounts *repositories.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed authorization header",
			})
			return
		}

		claims, err := tokens.ParseSessionToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired session",
			})
			return
		}

		session, err := sessions.Get(c.Request.Context(), claims.SessionID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "failed to load session",
			})
			return
		}
		if session == nil || !session.Valid(time.Now()) || session.AccountID != claims.AccountID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired session",
			})
			return
		}

		account, err := accounts.GetByID(c.Request.Context(), claims.AccountID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "failed to load account",
			})
			return
		}
		if account == nil || !account.IsActive {
			// The account disappeared or was deactivated after the token was
			// issued; the token is dead with it.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired session",
			})
			return
		}

		c.Set(AccountKey, account)
		c.Set(AccountIDKey, account.ID)
		c.Set(SessionIDKey, session.ID)

		c.Next()
	}
}

// bearerToken extracts the Bearer token from the Authorization header.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// CurrentAccount returns the authenticated account set by SessionAuth, or nil
// on unauthenticated routes.
func CurrentAccount(c *gin.Context) *models.Account {
	v, exists := c.Get(AccountKey)
	if !exists {
		return nil
	}
	account, ok := v.(*models.Account)
	if !ok {
		return nil
	}
	return account
}

// RequireStaff gates a route on staff or superuser status. Must run after
// SessionAuth.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := CurrentAccount(c)
		if account == nil || !account.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "staff access required",
			})
			return
		}
		c.Next()
	}
}

// RequireSuperuser gates a route on superuser status. Must run after
// SessionAuth.
func RequireSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := CurrentAccount(c)
		if account == nil || !account.IsSuperuser {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "superuser access required",
			})
			return
		}
		c.Next()
	}
}
