package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memberbase/memberbase/internal/telemetry"
)

// Metrics records request count and duration for every request. The path
// label uses the matched route template (c.FullPath()), not the raw URL, so
// IDs do not explode label cardinality; unmatched requests are bucketed under
// "<no-route>".
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
