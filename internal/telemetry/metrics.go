// Package telemetry provides application-level observability for memberbase.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<MB_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router, keeping the
// scrape path off the public ingress and outside the rate-limiting middleware.
//
// HTTP metrics are labelled by the Gin route template (c.FullPath(), e.g.
// /api/v1/accounts/:id) rather than the raw URL, to prevent unbounded label
// cardinality from user-supplied path segments such as account IDs.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts processed HTTP requests by method, route
	// template, and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration is a latency histogram by method and route template.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// RegistrationsTotal counts account self-registrations by outcome
	// (created, duplicate_email, invalid).
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_registrations_total",
			Help: "Total number of self-service registration attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// LoginsTotal counts login attempts by outcome (success,
	// invalid_credentials, not_verified, throttled).
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_logins_total",
			Help: "Total number of login attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// VerificationsTotal counts email verification attempts by outcome
	// (verified, already_verified, invalid_token).
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_verifications_total",
			Help: "Total number of email verification attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// AuditEntriesTotal counts audit log entries written, by entity type and action.
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit log entries written, by entity type and action.",
		},
		[]string{"entity_type", "action"},
	)

	// AuditShipErrorsTotal counts failed deliveries to external audit
	// destinations, by shipper type.
	AuditShipErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_ship_errors_total",
			Help: "Total number of failed audit entry deliveries to external destinations, by shipper type.",
		},
		[]string{"shipper"},
	)

	// OutboxEmailsTotal counts outbox email dispatch results (sent, failed, gave_up).
	OutboxEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_emails_total",
			Help: "Total number of outbox email dispatch attempts, by result.",
		},
		[]string{"result"},
	)

	// DBConnectionsInUse gauges the database connection pool usage, polled
	// periodically by StartDBPoolCollector.
	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use.",
		},
	)

	// DBConnectionsIdle gauges idle pooled database connections.
	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections in the pool.",
		},
	)
)

// StartDBPoolCollector polls db.Stats() every interval and exports the pool
// gauges until ctx is cancelled. Run it in a background goroutine.
func StartDBPoolCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := db.Stats()
			DBConnectionsInUse.Set(float64(stats.InUse))
			DBConnectionsIdle.Set(float64(stats.Idle))
		case <-ctx.Done():
			slog.Debug("db pool collector stopped")
			return
		}
	}
}
