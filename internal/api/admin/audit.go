// audit.go implements read-only handlers over the audit trail. Entries are
// written by the service layer inside mutating transactions; this surface only
// queries them.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memberbase/memberbase/internal/db/repositories"
)

// AuditHandlers handles audit trail endpoints
type AuditHandlers struct {
	repo *repositories.AuditRepository
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(repo *repositories.AuditRepository) *AuditHandlers {
	return &AuditHandlers{repo: repo}
}

// ListHandler lists audit entries, newest first, with optional filters:
// entity_type, entity_id, actor_id, action, start, end (RFC 3339).
// GET /api/v1/admin/audit?entity_type=account&action=update
func (h *AuditHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage, offset := pagination(c)

		var filters repositories.AuditFilters
		if v := c.Query("entity_type"); v != "" {
			filters.EntityType = &v
		}
		if v := c.Query("entity_id"); v != "" {
			filters.EntityID = &v
		}
		if v := c.Query("actor_id"); v != "" {
			filters.ActorID = &v
		}
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("start"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "start must be an RFC 3339 timestamp"})
				return
			}
			filters.StartDate = &ts
		}
		if v := c.Query("end"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "end must be an RFC 3339 timestamp"})
				return
			}
			filters.EndDate = &ts
		}

		entries, total, err := h.repo.List(c.Request.Context(), filters, perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit entries"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"entries": entries,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// GetHandler retrieves a single audit entry by ID
// GET /api/v1/admin/audit/:id
func (h *AuditHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := h.repo.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve audit entry"})
			return
		}
		if entry == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "audit entry not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entry": entry})
	}
}
