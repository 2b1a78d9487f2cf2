// meta.go bridges request context into audit metadata.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/memberbase/memberbase/internal/audit"
)

// RequestMeta assembles audit metadata from the request: the authenticated
// actor (when present), the client IP, and the request ID. Handlers pass the
// result into service calls so every audit entry records where the change
// came from.
func RequestMeta(c *gin.Context) audit.RequestMeta {
	meta := audit.RequestMeta{}

	if account := CurrentAccount(c); account != nil {
		id := account.ID
		meta.ActorID = &id
	}
	if ip := c.ClientIP(); ip != "" {
		meta.IPAddress = &ip
	}
	if v, exists := c.Get(RequestIDKey); exists {
		if id, ok := v.(string); ok && id != "" {
			meta.RequestID = &id
		}
	}
	return meta
}
