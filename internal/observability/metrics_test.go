package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.MessageRouted("group", "mention")
	m.MessageRouted("group", "mention")
	m.MessageRouted("private", "agent")
	m.ConfirmationOutcome("requested")
	m.RecordSweep(3)
	m.RecordSweep(0)
	m.RecordMaintenance("sweep-slots", "success")

	expected := `
		# HELP elisa_messages_total Total number of routed messages by surface and route
		# TYPE elisa_messages_total counter
		elisa_messages_total{route="agent",surface="private"} 1
		elisa_messages_total{route="mention",surface="group"} 2
	`
	if err := testutil.CollectAndCompare(m.MessageCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if got := testutil.ToFloat64(m.SlotsSwept); got != 3 {
		t.Errorf("slots swept = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.MaintenanceRuns.WithLabelValues("sweep-slots", "success")); got != 1 {
		t.Errorf("maintenance runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConfirmationCounter.WithLabelValues("requested")); got != 1 {
		t.Errorf("confirmations = %v, want 1", got)
	}
}

func TestMetricsHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordModelRequest("openai", "success", 1.5)
	m.RecordToolExecution("createTodo", "success", 0.02)
	m.RecordToolExecution("deleteTodo", "error", 0.01)

	if count := testutil.CollectAndCount(m.ToolExecutionCounter); count != 2 {
		t.Errorf("tool label combinations = %d, want 2", count)
	}
	if count := testutil.CollectAndCount(m.ModelRequestDuration); count != 1 {
		t.Errorf("model histograms = %d, want 1", count)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.MessageRouted("group", "greeting")
	m.RecordModelRequest("openai", "error", 0)
	m.RecordToolExecution("x", "error", 0)
	m.ConfirmationOutcome("confirmed")
	m.ProactiveOutcome("suppressed")
	m.SummaryRegenerated()
	m.RecordSweep(1)
	m.RecordMaintenance("sweep-slots", "error")
	m.RecordBroadcast("message.created", "delivered")
}
