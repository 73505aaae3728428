package agent

import (
	"log/slog"
	"time"

	"github.com/haasonsaas/elisa/internal/observability"
)

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records model requests.
func WithMetrics(m *observability.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithTracer traces model calls.
func WithTracer(t *observability.Tracer) LoopOption {
	return func(l *Loop) { l.tracer = t }
}

// WithClock overrides the clock used for the system prompt date.
func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithErrorIDs overrides the correlation id generator.
func WithErrorIDs(fn func() string) LoopOption {
	return func(l *Loop) {
		if fn != nil {
			l.newErrorID = fn
		}
	}
}

// WithRequireApproval adds tool names or "prefix*" patterns that always
// need confirmation.
func WithRequireApproval(patterns []string) LoopOption {
	return func(l *Loop) { l.requireApproval = append(l.requireApproval, patterns...) }
}
