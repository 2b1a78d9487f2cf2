// Package setup implements the first-run bootstrap endpoints. A freshly
// deployed instance has no superuser, so there is nobody who could use the
// admin surface to create one. The bootstrap endpoint closes that gap: it
// creates the first superuser and then permanently refuses further calls.
package setup

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/memberbase/memberbase/internal/auth"
	"github.com/memberbase/memberbase/internal/middleware"
	"github.com/memberbase/memberbase/internal/services"
)

// Handlers holds dependencies for the bootstrap endpoints.
type Handlers struct {
	svc *services.AccountService
}

// NewHandlers creates a new setup Handlers instance.
func NewHandlers(svc *services.AccountService) *Handlers {
	return &Handlers{svc: svc}
}

// StatusHandler reports whether the instance still needs its first superuser.
// No authentication required; the flag leaks nothing beyond "is this a fresh
// install".
// GET /api/v1/setup/status
func (h *Handlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		needed, err := h.svc.NeedsBootstrap(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get setup status"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"setup_required": needed})
	}
}

// BootstrapRequest is the payload for creating the first superuser.
type BootstrapRequest struct {
	Email     string `json:"email" binding:"required"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Password  string `json:"password" binding:"required"`
}

// BootstrapHandler creates the first superuser account. Once any superuser
// exists the endpoint answers 403 forever; later admin accounts are created
// through the admin surface by an authenticated superuser.
// POST /api/v1/setup/bootstrap
func (h *Handlers) BootstrapHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BootstrapRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		account, err := h.svc.Bootstrap(c.Request.Context(), services.RegisterInput{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Password:  req.Password,
		}, middleware.RequestMeta(c))
		if err != nil {
			switch {
			case errors.Is(err, services.ErrForbidden):
				c.JSON(http.StatusForbidden, gin.H{"error": "setup has already been completed"})
			case errors.Is(err, services.ErrDuplicateEmail):
				c.JSON(http.StatusConflict, gin.H{"error": "an account with this email already exists"})
			case errors.Is(err, services.ErrInvalidEmail):
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email address"})
			case errors.Is(err, auth.ErrPasswordTooShort):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
			return
		}

		c.JSON(http.StatusCreated, gin.H{"account": account})
	}
}
