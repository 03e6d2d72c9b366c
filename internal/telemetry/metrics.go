// Package telemetry provides application-level observability for the ToolBox
// intake backend.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<TBX_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds.  It is NOT served by
// the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Intake submission counters by outcome and failing pipeline step
//   - CI workflow dispatch and conclusion counters
//   - Conversion job result counters and duration histogram
//   - Notification email counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v1/intakes/:id) rather
// than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as intake IDs or package names.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /v1/admin/intakes/convert/:jobId),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//
// HTTPRequestDuration is a HistogramVec with labels {method, path}.
// Use histogram_quantile to compute latency percentiles.
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

// Intake pipeline metrics.
//
// IntakeSubmissionsTotal is a CounterVec with labels {outcome, step}. outcome is
// "accepted" or "rejected"; step is the pipeline stage that rejected the
// submission (npm_check, validation, structure_check, structure_validation,
// duplicate_check, database) or "" for accepted submissions.
//
// Example PromQL queries:
//   - Rejection rate by stage:  sum by (step) (rate(intake_submissions_total{outcome="rejected"}[1h]))
//   - Acceptance ratio:         sum(rate(intake_submissions_total{outcome="accepted"}[1d])) / sum(rate(intake_submissions_total[1d]))
//
// IntakeReviewsTotal is a CounterVec with label {action} (approved, rejected,
// needs_changes) incremented on every admin review decision.
var (
	IntakeSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_submissions_total",
			Help: "Total number of tool intake submissions, by outcome and failing pipeline step.",
		},
		[]string{"outcome", "step"},
	)

	IntakeReviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_reviews_total",
			Help: "Total number of admin review decisions, by action.",
		},
		[]string{"action"},
	)
)

// Conversion and CI workflow metrics.
//
// WorkflowDispatchesTotal counts workflow_dispatch calls made against the CI
// system. WorkflowConclusionsTotal is labelled {conclusion} with the terminal
// conclusion returned by the CI run (success, failure, cancelled, timeout).
//
// ConversionJobsTotal is labelled {status} (succeeded, failed) and is
// incremented once per finished conversion job.  ConversionDuration observes
// the wall time from job start to terminal status; its buckets extend to the
// workflow poll timeout.
//
// Example PromQL queries:
//   - Workflow failure rate:  rate(workflow_conclusions_total{conclusion!="success"}[1d])
//   - p95 conversion time:    histogram_quantile(0.95, rate(conversion_duration_seconds_bucket[1d]))
var (
	WorkflowDispatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_dispatches_total",
			Help: "Total number of CI workflow dispatch requests sent.",
		},
	)

	WorkflowConclusionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_conclusions_total",
			Help: "Total number of terminal CI workflow conclusions observed, by conclusion.",
		},
		[]string{"conclusion"},
	)

	ConversionJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversion_jobs_total",
			Help: "Total number of finished conversion jobs, by terminal status.",
		},
		[]string{"status"},
	)

	ConversionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conversion_duration_seconds",
			Help:    "Duration of a conversion job from start to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 300},
		},
	)
)

// NotificationEmailsTotal is a CounterVec with labels {template, result}
// (template: needs_changes, tool_published, pending_review_reminder;
// result: sent, failed) incremented per attempted email delivery.
// A rising failed count combined with intakes in needs_changes is a useful
// alert signal for SMTP delivery problems.
var NotificationEmailsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notification_emails_total",
		Help: "Total number of notification email delivery attempts, by template and result.",
	},
	[]string{"template", "result"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
