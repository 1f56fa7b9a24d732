package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors for the orchestration engine.
// All record methods are nil-safe so callers can run without metrics wired.
type Metrics struct {
	registry *prometheus.Registry

	messages    *prometheus.CounterVec
	handoffs    prometheus.Counter
	toolCalls   prometheus.Counter
	stepRetries prometheus.Counter
	runsStarted prometheus.Counter
	runsFailed  prometheus.Counter
	status      *prometheus.GaugeVec
}

// New registers the collectors on a private registry so tests can construct
// multiple instances without collisions.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codecrew_messages_appended_total",
			Help: "Messages appended to the run log, by message type.",
		}, []string{"type"}),
		handoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codecrew_handoffs_total",
			Help: "Agent-to-agent control transfers recorded.",
		}),
		toolCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codecrew_tool_calls_total",
			Help: "Tool invocations recorded.",
		}),
		stepRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codecrew_step_retries_total",
			Help: "Agent step calls retried after a failure.",
		}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codecrew_runs_started_total",
			Help: "Workflow runs started.",
		}),
		runsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codecrew_runs_failed_total",
			Help: "Workflow runs that ended in the failed state.",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "codecrew_workflow_status",
			Help: "Current workflow status (1 for the active status, 0 otherwise).",
		}, []string{"status"}),
	}
	registry.MustRegister(m.messages, m.handoffs, m.toolCalls, m.stepRetries, m.runsStarted, m.runsFailed, m.status)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MessageAppended counts one stored log entry.
func (m *Metrics) MessageAppended(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
}

// HandoffRecorded counts one control transfer.
func (m *Metrics) HandoffRecorded() {
	if m == nil {
		return
	}
	m.handoffs.Inc()
}

// ToolCallRecorded counts one tool invocation.
func (m *Metrics) ToolCallRecorded() {
	if m == nil {
		return
	}
	m.toolCalls.Inc()
}

// StepRetried counts one retried agent step.
func (m *Metrics) StepRetried() {
	if m == nil {
		return
	}
	m.stepRetries.Inc()
}

// RunStarted counts one run submission.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
}

// RunFailed counts one terminally failed run.
func (m *Metrics) RunFailed() {
	if m == nil {
		return
	}
	m.runsFailed.Inc()
}

// SetWorkflowStatus marks status as the single active workflow phase.
func (m *Metrics) SetWorkflowStatus(status string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		value := 0.0
		if s == status {
			value = 1.0
		}
		m.status.WithLabelValues(s).Set(value)
	}
}
