package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the engine's Prometheus metrics.
//
// All recording methods are safe on a nil *Metrics so components can be
// constructed without instrumentation in tests.
type Metrics struct {
	// MessageCounter counts routed messages.
	// Labels: surface (private|group), route
	MessageCounter *prometheus.CounterVec

	// ModelRequestCounter counts language-model calls.
	// Labels: provider, status (success|error|timeout)
	ModelRequestCounter *prometheus.CounterVec

	// ModelRequestDuration measures language-model latency in seconds.
	// Labels: provider
	ModelRequestDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|ambiguous|timeout)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool latency in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// ConfirmationCounter tracks the sensitive-action gate.
	// Labels: outcome (requested|confirmed|cancelled)
	ConfirmationCounter *prometheus.CounterVec

	// ProactiveCounter tracks proactive suggestions.
	// Labels: outcome (suggested|suppressed)
	ProactiveCounter *prometheus.CounterVec

	// SummaryRegenerations counts rolling summary rebuilds.
	SummaryRegenerations prometheus.Counter

	// SlotsSwept counts expired state slots removed by the background sweep.
	SlotsSwept prometheus.Counter

	// MaintenanceRuns counts background maintenance runs.
	// Labels: job, status (success|error)
	MaintenanceRuns *prometheus.CounterVec

	// BroadcastCounter counts published realtime events.
	// Labels: event, status (delivered|dropped)
	BroadcastCounter *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elisa_messages_total",
				Help: "Total number of routed messages by surface and route",
			},
			[]string{"surface", "route"},
		),
		ModelRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elisa_model_requests_total",
				Help: "Total number of language-model requests by provider and status",
			},
			[]string{"provider", "status"},
		),
		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "elisa_model_request_duration_seconds",
				Help:    "Duration of language-model requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elisa_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "elisa_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),
		ConfirmationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elisa_confirmations_total",
				Help: "Sensitive-action confirmations by outcome",
			},
			[]string{"outcome"},
		),
		ProactiveCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elisa_proactive_suggestions_total",
				Help: "Proactive suggestion decisions by outcome",
			},
			[]string{"outcome"},
		),
		SummaryRegenerations: factory.NewCounter(prometheus.CounterOpts{
			Name: "elisa_summary_regenerations_total",
			Help: "Total number of group summary regenerations",
		}),
		SlotsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "elisa_state_slots_swept_total",
			Help: "Total number of expired conversation state slots removed by the sweep",
		}),
		MaintenanceRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elisa_maintenance_runs_total",
				Help: "Background maintenance runs by job and status",
			},
			[]string{"job", "status"},
		),
		BroadcastCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elisa_broadcast_events_total",
				Help: "Realtime events by name and delivery status",
			},
			[]string{"event", "status"},
		),
	}
}

// MessageRouted records a routing decision.
func (m *Metrics) MessageRouted(surface, route string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(surface, route).Inc()
}

// RecordModelRequest records a language-model call.
func (m *Metrics) RecordModelRequest(provider, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ModelRequestCounter.WithLabelValues(provider, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordToolExecution records a tool execution.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// ConfirmationOutcome records a step of the sensitive-action gate.
func (m *Metrics) ConfirmationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ConfirmationCounter.WithLabelValues(outcome).Inc()
}

// ProactiveOutcome records whether a proactive suggestion fired.
func (m *Metrics) ProactiveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ProactiveCounter.WithLabelValues(outcome).Inc()
}

// SummaryRegenerated records a rolling summary rebuild.
func (m *Metrics) SummaryRegenerated() {
	if m == nil {
		return
	}
	m.SummaryRegenerations.Inc()
}

// RecordSweep records expired slots removed by a sweep.
func (m *Metrics) RecordSweep(removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.SlotsSwept.Add(float64(removed))
}

// RecordMaintenance records one run of a maintenance job.
func (m *Metrics) RecordMaintenance(job, status string) {
	if m == nil {
		return
	}
	m.MaintenanceRuns.WithLabelValues(job, status).Inc()
}

// RecordBroadcast records a published realtime event.
func (m *Metrics) RecordBroadcast(event, status string) {
	if m == nil {
		return
	}
	m.BroadcastCounter.WithLabelValues(event, status).Inc()
}
