// Package metrics declares the Prometheus collectors of the service. They
// register on the default registry, served by promhttp on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Import outcomes.
const (
	StatusSuccess = "success"
	StatusDecode  = "decode_error"
	StatusSchema  = "schema_error"
	StatusFailed  = "error"
)

var (
	ImportTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mortalite_import_total",
			Help: "Import batches by outcome",
		},
		[]string{"status"},
	)

	ImportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mortalite_import_rows_total",
			Help: "Rows seen by the import engine, by outcome",
		},
		[]string{"outcome"}, // added, duplicate, skipped
	)

	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mortalite_import_duration_seconds",
			Help:    "Wall time of one import batch",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mortalite_query_duration_seconds",
			Help:    "Duration of aggregate queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mortalite_query_errors_total",
			Help: "Aggregate queries that returned an error",
		},
		[]string{"query"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mortalite_api_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mortalite_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordImport records one finished batch.
func RecordImport(status string, added, duplicates, skipped int, d time.Duration) {
	ImportTotal.WithLabelValues(status).Inc()
	ImportRows.WithLabelValues("added").Add(float64(added))
	ImportRows.WithLabelValues("duplicate").Add(float64(duplicates))
	ImportRows.WithLabelValues("skipped").Add(float64(skipped))
	ImportDuration.Observe(d.Seconds())
}

// RecordQuery records an aggregate query.
func RecordQuery(name string, d time.Duration, err error) {
	QueryDuration.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		QueryErrors.WithLabelValues(name).Inc()
	}
}

// RecordAPIRequest records an HTTP request.
func RecordAPIRequest(method, route string, status int, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
