package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for runs and tools.
type Metrics struct {
	ToolCalls      *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
	Runs           *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_tool_calls_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "research_tool_call_duration_seconds",
			Help:    "Tool invocation latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"tool"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_runs_total",
			Help: "Finished runs by terminal status.",
		}, []string{"status"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "research_active_sessions",
			Help: "Sessions held in memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ToolCalls, m.ToolDuration, m.Runs, m.ActiveSessions)
	}
	return m
}

// ObserveTool records one finished tool invocation.
func (m *Metrics) ObserveTool(tool, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(time.Since(started).Seconds())
}

// ObserveRun records a run reaching a terminal status.
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
}

// SessionOpened bumps the in-memory session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}
