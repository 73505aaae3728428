// Package observability provides the logging, metrics and tracing used by
// the assistant engine.
//
// # Logging
//
// NewLogger wraps log/slog with JSON or text output, context enrichment and
// redaction of secrets that match the configured patterns:
//
//	logger := observability.NewLogger(observability.LogConfig{
//		Level:  "info",
//		Format: "json",
//	}).Slog()
//
// Request, user, group and surface identifiers stored with AddRequestID,
// AddUserID, AddGroupID and AddSurface are added to every record logged with
// that context.
//
// # Metrics
//
// NewMetrics registers Prometheus collectors on the given registerer. All
// metric names share the elisa_ prefix:
//
//	elisa_messages_total{surface, route}
//	elisa_model_requests_total{provider, status}
//	elisa_tool_executions_total{tool, status}
//	elisa_confirmations_total{outcome}
//	elisa_proactive_suggestions_total{outcome}
//	elisa_maintenance_runs_total{job, status}
//
// A nil *Metrics is valid and records nothing, so components accept it as an
// optional dependency.
//
// # Tracing
//
// NewTracer exports spans over OTLP/gRPC when an endpoint is configured and
// otherwise falls back to the global no-op tracer. Message handling, model
// rounds and tool calls each get a span.
package observability
