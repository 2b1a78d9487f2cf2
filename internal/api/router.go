// Package api wires together all HTTP routes for the memberbase backend.
//
// Route grouping philosophy:
//   - /api/v1/auth/ endpoints are public: registration, login, and email
//     verification must work before the caller has a session. They carry the
//     strictest rate limit because they are the credential-guessing surface.
//   - /api/v1/me and /api/v1/auth/logout require a valid session.
//   - /api/v1/admin/ requires staff; account mutations additionally require
//     superuser, matching the separation between "can see the member roster"
//     and "can change who is in it".
//   - /api/v1/setup/ is open only until the first superuser exists, then
//     permanently answers 403.
//
// State-changing routes also pass an Origin check so that a session cookie or
// cached credential cannot be ridden cross-site from an untrusted page.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/memberbase/memberbase/internal/api/admin"
	"github.com/memberbase/memberbase/internal/api/setup"
	"github.com/memberbase/memberbase/internal/audit"
	"github.com/memberbase/memberbase/internal/auth"
	"github.com/memberbase/memberbase/internal/config"
	"github.com/memberbase/memberbase/internal/db/repositories"
	"github.com/memberbase/memberbase/internal/jobs"
	"github.com/memberbase/memberbase/internal/middleware"
	"github.com/memberbase/memberbase/internal/services"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	outboxDispatcher *jobs.OutboxDispatcher
	throttle         *auth.LoginThrottle
	shipper          audit.Shipper
	rateLimiters     []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.outboxDispatcher != nil {
		bg.outboxDispatcher.Stop()
	}
	if bg.throttle != nil {
		bg.throttle.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("audit shipper close failed", "error", err)
		}
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, database *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(database)
	sessionRepo := repositories.NewSessionRepository(database)

	// Wrap *sql.DB with sqlx for the repositories that write on caller
	// transactions (audit entries and outbox messages ride the business tx)
	sqlxDB := sqlx.NewDb(database, "postgres")
	auditRepo := repositories.NewAuditRepository(sqlxDB)
	outboxRepo := repositories.NewOutboxRepository(sqlxDB)

	// Optional audit export destinations. The DB row stays the record of
	// truth; shippers are best-effort on top of it.
	shipper, err := audit.NewShipperFromConfig(cfg.Audit)
	if err != nil {
		log.Fatalf("Failed to initialize audit shippers: %v", err)
	}
	recorder := audit.NewRecorder(auditRepo, shipper, slog.Default())

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret)
	throttle := auth.NewLoginThrottle(cfg.Auth.LoginThrottle.MaxFailures, cfg.Auth.LoginThrottle.Cooldown)

	accountService := services.NewAccountService(
		sqlxDB, accountRepo, sessionRepo, outboxRepo,
		recorder, tokens, throttle, cfg, slog.Default(),
	)

	// Start the email outbox dispatcher. Safe to start unconditionally; it is
	// a no-op when notifications are disabled.
	outboxDispatcher := jobs.NewOutboxDispatcher(outboxRepo, services.NewSMTPMailer(&cfg.Notifications.SMTP), &cfg.Notifications, slog.Default())
	go outboxDispatcher.Start(context.Background())
	log.Printf("Outbox dispatcher started (poll interval: %s)", cfg.Notifications.OutboxPollInterval)

	// Initialize handlers
	authHandlers := NewAuthHandlers(accountService, cfg)
	accountAdminHandlers := admin.NewAccountHandlers(accountService)
	auditAdminHandlers := admin.NewAuditHandlers(auditRepo)
	setupHandlers := setup.NewHandlers(accountService)

	// Initialize rate limiters
	authRateLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
	generalRateLimiter := middleware.NewRateLimiter(generalRateLimitConfig(cfg))

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeaders(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(database))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(database))

	// API version
	router.GET("/version", versionHandler())

	// Origins trusted on state-changing browser requests: the public URL the
	// members reach the site on, plus any explicitly configured extras.
	trustedOrigins := append([]string{cfg.Server.GetPublicURL()}, cfg.Security.TrustedOrigins...)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.OriginCheck(trustedOrigins))
	{
		// Bootstrap endpoints: open until the first superuser exists
		apiV1.GET("/setup/status", setupHandlers.StatusHandler())
		apiV1.POST("/setup/bootstrap",
			middleware.RateLimit(authRateLimiter),
			setupHandlers.BootstrapHandler())

		// Public authentication endpoints (no auth required, but rate limited)
		authGroup := apiV1.Group("/auth")
		authGroup.Use(middleware.RateLimit(authRateLimiter))
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/login", authHandlers.LoginHandler())
			authGroup.GET("/verify", authHandlers.VerifyHandler())
			authGroup.POST("/resend-verification", authHandlers.ResendVerificationHandler())
		}

		// Authenticated endpoints
		authenticatedGroup := apiV1.Group("")
		authenticatedGroup.Use(middleware.SessionAuth(tokens, sessionRepo, accountRepo))
		authenticatedGroup.Use(middleware.RateLimit(generalRateLimiter))
		{
			authenticatedGroup.POST("/auth/logout", authHandlers.LogoutHandler())

			// Self-service profile endpoints
			authenticatedGroup.GET("/me", authHandlers.MeHandler())
			authenticatedGroup.PUT("/me", authHandlers.UpdateMeHandler())
			authenticatedGroup.DELETE("/me", authHandlers.DeleteMeHandler())
			authenticatedGroup.POST("/me/password", authHandlers.ChangePasswordHandler())

			// Admin endpoints: staff can read the roster and the audit trail
			adminGroup := authenticatedGroup.Group("/admin")
			adminGroup.Use(middleware.RequireStaff())
			{
				adminGroup.GET("/accounts", accountAdminHandlers.ListHandler())
				adminGroup.GET("/accounts/search", accountAdminHandlers.SearchHandler())
				adminGroup.GET("/accounts/:id", accountAdminHandlers.GetHandler())
				adminGroup.GET("/stats", accountAdminHandlers.StatsHandler())

				adminGroup.GET("/audit", auditAdminHandlers.ListHandler())
				adminGroup.GET("/audit/:id", auditAdminHandlers.GetHandler())

				// Account mutations require superuser
				adminGroup.POST("/accounts",
					middleware.RequireSuperuser(), accountAdminHandlers.CreateHandler())
				adminGroup.PUT("/accounts/:id",
					middleware.RequireSuperuser(), accountAdminHandlers.UpdateHandler())
				adminGroup.DELETE("/accounts/:id",
					middleware.RequireSuperuser(), accountAdminHandlers.DeleteHandler())
			}
		}
	}

	bgServices := &BackgroundServices{
		outboxDispatcher: outboxDispatcher,
		throttle:         throttle,
		shipper:          shipper,
		rateLimiters:     []*middleware.RateLimiter{authRateLimiter, generalRateLimiter},
	}

	return router, bgServices
}

// generalRateLimitConfig derives the general limiter settings from config,
// falling back to the built-in defaults when rate limiting is not tuned.
func generalRateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	limitCfg := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		limitCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		limitCfg.BurstSize = cfg.Security.RateLimiting.Burst
	}
	return limitCfg
}

// healthCheckHandler is the liveness probe. It pings the database on the
// request context so a stuck pool cannot hang the probe past its deadline.
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. The database
// is the only hard dependency; SMTP being down delays mail but does not make
// the API unready.
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready": false,
				"error": "database not ready",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ready": true,
			"time":  time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the service and API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "memberbase",
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging via slog. The output
// format (json / text) follows the global handler configured at startup.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS using the configured origin and method lists.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, DELETE, OPTIONS"
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
