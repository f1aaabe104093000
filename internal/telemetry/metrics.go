// Package telemetry provides application-level observability for the sales-assistant backend.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<SALES_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Rate-limit decisions per preset
//   - Egress requests, blocks and upstream latency
//   - Security events by type and severity, signature failures
//   - Retention job deletions
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() rather than the raw request URL. Egress metrics
// are labelled by whitelisted hostname only, which is a closed set.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Rate-limit metrics.
//
// RateLimitDecisionsTotal is a CounterVec with labels {preset, decision} where
// decision is "allowed", "blocked" or "error" (store unavailable, request let through).
//
// Example PromQL queries:
//   - Block ratio per preset:  sum by (preset) (rate(ratelimit_decisions_total{decision="blocked"}[5m])) / sum by (preset) (rate(ratelimit_decisions_total[5m]))
//
// RateLimitEntries is a Gauge holding the number of live counters in the
// in-memory store, sampled after every sweep.
var (
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Total number of rate-limit decisions, by preset and decision.",
		},
		[]string{"preset", "decision"},
	)

	RateLimitEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_entries",
			Help: "Number of live rate-limit counters after the last sweep.",
		},
	)
)

// Egress metrics, recorded by the egress guard.
//
// EgressBlockedTotal is a CounterVec with label {reason}: invalid_url,
// private_ip, not_whitelisted, tls_required, method_not_allowed, dial_private_ip.
//
// EgressRequestsTotal is a CounterVec with labels {host, outcome} where outcome
// is "ok", "timeout" or "error".
//
// Example PromQL queries:
//   - SSRF attempts:            increase(egress_blocked_total{reason="private_ip"}[1h])
//   - Upstream timeout ratio:   sum(rate(egress_requests_total{outcome="timeout"}[5m])) / sum(rate(egress_requests_total[5m]))
var (
	EgressBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egress_blocked_total",
			Help: "Total number of outbound requests refused by the egress guard, by reason.",
		},
		[]string{"reason"},
	)

	EgressRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egress_requests_total",
			Help: "Total number of outbound requests performed, by host and outcome.",
		},
		[]string{"host", "outcome"},
	)

	EgressRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "egress_request_duration_seconds",
			Help:    "Latency of outbound requests through the egress guard, by host.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"host"},
	)
)

// Security monitoring metrics.
//
// SecurityEventsTotal counts every event passed to the monitor, by
// {event_type, severity}, whether or not it was persisted.
//
// Example PromQL queries:
//   - Critical events in the last hour:  increase(security_events_total{severity="critical"}[1h])
//
// SignatureFailuresTotal counts rejected signed requests by {reason}:
// missing_headers, malformed_timestamp, expired, mismatch, malformed_body.
var (
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_total",
			Help: "Total number of security events observed, by event type and severity.",
		},
		[]string{"event_type", "severity"},
	)

	SignatureFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signature_failures_total",
			Help: "Total number of requests rejected by signature verification, by reason.",
		},
		[]string{"reason"},
	)
)

// RetentionDeletedRowsTotal counts rows removed by the retention job, by {table}.
var RetentionDeletedRowsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "retention_deleted_rows_total",
		Help: "Total number of rows deleted by the data retention job, by table.",
	},
	[]string{"table"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
