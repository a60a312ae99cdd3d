package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the exporter.
// It is passed explicitly to every component that records metrics;
// components treat a nil *Metrics as "metrics disabled".
type Metrics struct {
	// Koinly API metrics
	apiRequestsTotal   *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec

	// Export metrics
	pagesFetchedTotal        prometheus.Counter
	transactionsFetchedTotal prometheus.Counter
	delaySecondsTotal        *prometheus.CounterVec
	delaysTotal              *prometheus.CounterVec
	checkpointsTotal         prometheus.Counter
	runsTotal                *prometheus.CounterVec
	runDuration              *prometheus.HistogramVec
	rowsRenderedTotal        prometheus.Counter
	exportBytesWritten       *prometheus.CounterVec

	// Metrics endpoint
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		apiRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koinly_api_requests_total",
				Help: "Total number of Koinly API requests by endpoint and status class",
			},
			[]string{"endpoint", "status"},
		),
		apiRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "koinly_api_request_duration_seconds",
				Help:    "Duration of Koinly API requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		pagesFetchedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "export_pages_fetched_total",
				Help: "Total number of transaction pages fetched",
			},
		),
		transactionsFetchedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "export_transactions_fetched_total",
				Help: "Total number of transactions fetched",
			},
		),
		delaySecondsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "export_delay_seconds_total",
				Help: "Total time spent waiting between requests, by delay kind",
			},
			[]string{"kind"},
		),
		delaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "export_delays_total",
				Help: "Total number of delays taken between requests, by delay kind",
			},
			[]string{"kind"},
		),
		checkpointsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "export_checkpoints_total",
				Help: "Total number of checkpoint pauses",
			},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "export_runs_total",
				Help: "Total number of export runs by outcome",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "export_run_duration_seconds",
				Help:    "Duration of export runs in seconds",
				Buckets: []float64{1, 10, 60, 300, 600, 1800, 3600, 7200},
			},
			[]string{"status"},
		),
		rowsRenderedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "export_rows_rendered_total",
				Help: "Total number of CSV rows rendered",
			},
		),
		exportBytesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "export_bytes_written_total",
				Help: "Total number of bytes written by export sinks",
			},
			[]string{"sink"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served by the metrics endpoint",
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests served by the metrics endpoint",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"kind", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"kind"},
		),
	}
}

// Koinly API metric helpers

// RecordAPIRequest records a Koinly API request. A statusCode of 0 means the
// request failed before a response arrived.
func (m *Metrics) RecordAPIRequest(endpoint string, statusCode int, duration float64) {
	status := "error"
	if statusCode != 0 {
		status = statusCodeToString(statusCode)
	}
	m.apiRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.apiRequestDuration.WithLabelValues(endpoint).Observe(duration)
}

// Export metric helpers

// RecordPageFetched records one fetched page and its transaction count.
func (m *Metrics) RecordPageFetched(transactions int) {
	m.pagesFetchedTotal.Inc()
	m.transactionsFetchedTotal.Add(float64(transactions))
}

// RecordDelay records a pause between requests. kind is "jitter" or "checkpoint".
func (m *Metrics) RecordDelay(kind string, seconds float64) {
	m.delaysTotal.WithLabelValues(kind).Inc()
	m.delaySecondsTotal.WithLabelValues(kind).Add(seconds)
}

// RecordCheckpoint records a checkpoint pause.
func (m *Metrics) RecordCheckpoint() {
	m.checkpointsTotal.Inc()
}

// RecordRun records a finished export run.
func (m *Metrics) RecordRun(status string, duration float64) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration)
}

// RecordRowsRendered records CSV rows produced by the renderer.
func (m *Metrics) RecordRowsRendered(rows int) {
	m.rowsRenderedTotal.Add(float64(rows))
}

// RecordBytesWritten records bytes written by a sink.
func (m *Metrics) RecordBytesWritten(sink string, n int) {
	m.exportBytesWritten.WithLabelValues(sink).Add(float64(n))
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(kind, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(kind, status).Inc()
	m.natsPublishDuration.WithLabelValues(kind).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
