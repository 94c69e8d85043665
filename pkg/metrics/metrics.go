// Package metrics exposes the Prometheus collectors for tributary. Every
// collector is registered with the default registry through promauto and is
// served by the control API on /metrics.
//
// # Basic Usage
//
//	timer := metrics.NewTimer()
//	result := mgr.SyncConnector(ctx, tenant, "hubspot", nil)
//	metrics.ObserveSync("hubspot", result.Success, result.RecordsSynced, timer.Stop())
//
// # Metric Types
//
// Counter: sync runs, records synced, table failures, HTTP requests, token refreshes
// Histogram: sync and HTTP request durations
// Gauge: syncs currently in flight
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tributary"

var (
	// SyncTotal counts finished connector syncs by outcome
	SyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_total",
			Help:      "Connector sync runs by connector type and status",
		},
		[]string{"connector", "status"},
	)

	// SyncDuration tracks wall time of a connector sync
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of connector syncs",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"connector"},
	)

	// RecordsSynced counts rows landed by successful tables
	RecordsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_synced_total",
			Help:      "Records synced per connector type",
		},
		[]string{"connector"},
	)

	// TableFailures counts tables that failed extract or load
	TableFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_failures_total",
			Help:      "Failed table syncs per connector type",
		},
		[]string{"connector"},
	)

	// SyncsInFlight is the number of syncs currently holding a connector lock
	SyncsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "syncs_in_flight",
			Help:      "Connector syncs currently running",
		},
	)

	// HTTPRequests counts outbound API requests by host and status code
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Outbound HTTP requests by host and status code",
		},
		[]string{"host", "code"},
	)

	// HTTPDuration tracks outbound request latency
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Outbound HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	// TokenRefresh counts OAuth token refresh attempts
	TokenRefresh = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "OAuth token refreshes by connector type and result",
		},
		[]string{"connector", "result"},
	)

	// RecordsLoaded counts rows inserted into the analytics store
	RecordsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_loaded_total",
			Help:      "Rows inserted into the analytics store by dialect",
		},
		[]string{"dialect"},
	)
)

// ObserveSync records the outcome of one connector sync
func ObserveSync(connector string, success bool, records int, d time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	SyncTotal.WithLabelValues(connector, status).Inc()
	SyncDuration.WithLabelValues(connector).Observe(d.Seconds())
	if records > 0 {
		RecordsSynced.WithLabelValues(connector).Add(float64(records))
	}
}

// ObserveHTTP records one outbound request. A zero code means a transport error.
func ObserveHTTP(host string, code int, d time.Duration) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	HTTPRequests.WithLabelValues(host, label).Inc()
	HTTPDuration.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveTokenRefresh records a token refresh attempt
func ObserveTokenRefresh(connector string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	TokenRefresh.WithLabelValues(connector, result).Inc()
}

// Timer measures elapsed time
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
