package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSink is the interface the core depends on. It never touches
// Prometheus directly; the core is given a MetricsSink and calls it at the
// points named in the logger/metrics contract.
type MetricsSink interface {
	// SessionCompleted records a finished session's terminal status and
	// wall-clock duration.
	SessionCompleted(status string, durationMs int64)

	// RetryAttempt records one retry-orchestrator attempt outcome.
	RetryAttempt(status string)

	// ContainerEvent records a container lifecycle transition
	// (created, started, stopped, removed).
	ContainerEvent(kind string)

	// ToolInvoked records one tool dispatcher call.
	ToolInvoked(name string, isError bool)
}

// Metrics is the Prometheus-backed MetricsSink implementation. The caller
// registers it against their own prometheus.Registerer; the core never
// starts an HTTP server to expose it.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	orchestrator, err := retryorchestrator.New(cfg, systemPrompt, workspaceDir, factory, logger, metrics)
type Metrics struct {
	sessionsTotal   *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	retryAttempts   *prometheus.CounterVec
	toolInvocations *prometheus.CounterVec
	containerEvents *prometheus.CounterVec
}

// NewMetrics registers the orchestrator's metric series against reg and
// returns a ready-to-use MetricsSink. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codecage_sessions_total",
			Help: "Count of sessions by terminal status.",
		}, []string{"status"}),
		sessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codecage_session_duration_seconds",
			Help:    "Session wall-clock duration in seconds.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"status"}),
		retryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codecage_retry_attempts_total",
			Help: "Count of retry-orchestrator attempts by outcome status.",
		}, []string{"status"}),
		toolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codecage_tool_invocations_total",
			Help: "Count of tool dispatcher invocations by tool name and error flag.",
		}, []string{"tool", "is_error"}),
		containerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codecage_container_events_total",
			Help: "Count of container lifecycle events by kind.",
		}, []string{"kind"}),
	}
}

// SessionCompleted implements MetricsSink.
func (m *Metrics) SessionCompleted(status string, durationMs int64) {
	m.sessionsTotal.WithLabelValues(status).Inc()
	m.sessionDuration.WithLabelValues(status).Observe(float64(durationMs) / 1000.0)
}

// RetryAttempt implements MetricsSink.
func (m *Metrics) RetryAttempt(status string) {
	m.retryAttempts.WithLabelValues(status).Inc()
}

// ContainerEvent implements MetricsSink.
func (m *Metrics) ContainerEvent(kind string) {
	m.containerEvents.WithLabelValues(kind).Inc()
}

// ToolInvoked implements MetricsSink.
func (m *Metrics) ToolInvoked(name string, isError bool) {
	label := "false"
	if isError {
		label = "true"
	}
	m.toolInvocations.WithLabelValues(name, label).Inc()
}

// NoopMetrics is a MetricsSink that discards everything. Useful in tests and
// as the default when a caller doesn't wire Prometheus.
type NoopMetrics struct{}

// SessionCompleted implements MetricsSink.
func (NoopMetrics) SessionCompleted(string, int64) {}

// RetryAttempt implements MetricsSink.
func (NoopMetrics) RetryAttempt(string) {}

// ContainerEvent implements MetricsSink.
func (NoopMetrics) ContainerEvent(string) {}

// ToolInvoked implements MetricsSink.
func (NoopMetrics) ToolInvoked(string, bool) {}
