package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Query metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration prometheus.Histogram

	// Model metrics
	ModelCallsTotal   *prometheus.CounterVec
	ModelCallDuration *prometheus.HistogramVec

	// Tool metrics
	ToolCallsTotal      *prometheus.CounterVec
	ToolCallDuration    *prometheus.HistogramVec
	ToolCallErrorsTotal *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	ToolsAvailable prometheus.Gauge
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolbridge_queries_total",
				Help: "Total number of processed queries",
			},
			[]string{"status"},
		),
		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "toolbridge_query_duration_seconds",
				Help:    "Duration of queries in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		ModelCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolbridge_model_calls_total",
				Help: "Total number of model calls",
			},
			[]string{"provider", "status"},
		),
		ModelCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolbridge_model_call_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolbridge_tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool_name", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolbridge_tool_call_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		ToolCallErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolbridge_tool_call_errors_total",
				Help: "Total number of failed tool calls",
			},
			[]string{"tool_name", "error_type"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolbridge_sessions_active",
				Help: "Number of live tool host sessions",
			},
		),
		ToolsAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolbridge_tools_available",
				Help: "Number of tools in the most recently fetched catalog",
			},
		),
	}

	m.registry.MustRegister(
		m.QueriesTotal,
		m.QueryDuration,
		m.ModelCallsTotal,
		m.ModelCallDuration,
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.ToolCallErrorsTotal,
		m.SessionsActive,
		m.ToolsAvailable,
	)

	return m
}

// RecordQuery records one processed query. Safe on a nil receiver.
func (m *Metrics) RecordQuery(duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(status(success)).Inc()
	m.QueryDuration.Observe(duration.Seconds())
}

// RecordModelCall records one model round trip. Safe on a nil receiver.
func (m *Metrics) RecordModelCall(provider string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.ModelCallsTotal.WithLabelValues(provider, status(success)).Inc()
	m.ModelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordToolCall records one tool invocation. errorType is ignored on
// success. Safe on a nil receiver.
func (m *Metrics) RecordToolCall(tool string, duration time.Duration, errorType string) {
	if m == nil {
		return
	}
	success := errorType == ""
	m.ToolCallsTotal.WithLabelValues(tool, status(success)).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.ToolCallErrorsTotal.WithLabelValues(tool, errorType).Inc()
	}
}

// SetToolsAvailable records the size of the current catalog. Safe on a nil receiver.
func (m *Metrics) SetToolsAvailable(n int) {
	if m == nil {
		return
	}
	m.ToolsAvailable.Set(float64(n))
}

// SessionOpened increments the live session gauge. Safe on a nil receiver.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionClosed decrements the live session gauge. Safe on a nil receiver.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
