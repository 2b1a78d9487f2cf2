// accounts.go implements handlers for account roster administration: listing,
// searching, creating, updating, and deleting member accounts.
package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/memberbase/memberbase/internal/auth"
	"github.com/memberbase/memberbase/internal/middleware"
	"github.com/memberbase/memberbase/internal/services"
)

// AccountHandlers handles account management endpoints
type AccountHandlers struct {
	svc *services.AccountService
}

// NewAccountHandlers creates a new AccountHandlers instance
func NewAccountHandlers(svc *services.AccountService) *AccountHandlers {
	return &AccountHandlers{svc: svc}
}

// pagination parses page/per_page query parameters with the usual clamping.
func pagination(c *gin.Context) (page, perPage, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage, (page - 1) * perPage
}

// ListHandler lists all accounts with pagination
// GET /api/v1/admin/accounts?page=1&per_page=20
func (h *AccountHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage, offset := pagination(c)

		accounts, total, err := h.svc.ListAccounts(c.Request.Context(), perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list accounts"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"accounts": accounts,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// SearchHandler searches accounts by email or name fragment
// GET /api/v1/admin/accounts/search?q=ada
func (h *AccountHandlers) SearchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "q query parameter is required"})
			return
		}
		_, perPage, offset := pagination(c)

		accounts, err := h.svc.SearchAccounts(c.Request.Context(), query, perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search accounts"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"accounts": accounts})
	}
}

// GetHandler retrieves a specific account by ID
// GET /api/v1/admin/accounts/:id
func (h *AccountHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.svc.GetAccount(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"account": account})
	}
}

// StatsHandler returns aggregate roster counts
// GET /api/v1/admin/stats
func (h *AccountHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.svc.GetStats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stats": stats})
	}
}

// CreateAccountRequest represents the request to create a new account
type CreateAccountRequest struct {
	Email         string `json:"email" binding:"required"`
	FirstName     string `json:"first_name" binding:"required"`
	LastName      string `json:"last_name" binding:"required"`
	Password      string `json:"password" binding:"required"`
	IsActive      *bool  `json:"is_active"`
	IsStaff       bool   `json:"is_staff"`
	IsSuperuser   bool   `json:"is_superuser"`
	EmailVerified bool   `json:"email_verified"`
}

// CreateHandler creates a new account on behalf of an administrator
// POST /api/v1/admin/accounts
func (h *AccountHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		// Admin-created accounts default to active
		isActive := true
		if req.IsActive != nil {
			isActive = *req.IsActive
		}

		account, err := h.svc.AdminCreateAccount(c.Request.Context(), services.AdminCreateInput{
			Email:         req.Email,
			FirstName:     req.FirstName,
			LastName:      req.LastName,
			Password:      req.Password,
			IsActive:      isActive,
			IsStaff:       req.IsStaff,
			IsSuperuser:   req.IsSuperuser,
			EmailVerified: req.EmailVerified,
		}, middleware.RequestMeta(c))
		if err != nil {
			writeServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"account": account})
	}
}

// UpdateAccountRequest represents the request to update an account. All fields
// are optional; absent fields are left unchanged.
type UpdateAccountRequest struct {
	Email         *string `json:"email"`
	FirstName     *string `json:"first_name"`
	LastName      *string `json:"last_name"`
	Password      *string `json:"password"`
	IsActive      *bool   `json:"is_active"`
	IsStaff       *bool   `json:"is_staff"`
	IsSuperuser   *bool   `json:"is_superuser"`
	EmailVerified *bool   `json:"email_verified"`
}

// UpdateHandler applies an administrator's edit to any account
// PUT /api/v1/admin/accounts/:id
func (h *AccountHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		account, err := h.svc.AdminUpdateAccount(c.Request.Context(), c.Param("id"), services.AdminUpdateInput{
			Email:         req.Email,
			FirstName:     req.FirstName,
			LastName:      req.LastName,
			Password:      req.Password,
			IsActive:      req.IsActive,
			IsStaff:       req.IsStaff,
			IsSuperuser:   req.IsSuperuser,
			EmailVerified: req.EmailVerified,
		}, middleware.RequestMeta(c))
		if err != nil {
			writeServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"account": account})
	}
}

// DeleteHandler removes an account
// DELETE /api/v1/admin/accounts/:id
func (h *AccountHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.svc.AdminDeleteAccount(c.Request.Context(), c.Param("id"), middleware.RequestMeta(c)); err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}

// writeServiceError maps service-layer sentinel errors onto HTTP responses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, services.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": "an account with this email already exists"})
	case errors.Is(err, services.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email address"})
	case errors.Is(err, auth.ErrPasswordTooShort):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "operation not permitted"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
