package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNewTracerWithoutEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	if tracer == nil {
		t.Fatal("expected tracer")
	}
	if tracer.config.ServiceName != "elisa" {
		t.Errorf("service name = %q", tracer.config.ServiceName)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestNilTracerStartsSpans(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.TraceModelCall(context.Background(), "openai", "gpt-4o-mini", 1)
	defer span.End()
	if ctx == nil {
		t.Fatal("nil context")
	}
	tracer.RecordError(span, errors.New("boom"))
	tracer.RecordError(span, nil)

	_, toolSpan := tracer.TraceToolCall(ctx, "createTodo")
	toolSpan.End()
	if GetTraceID(context.Background()) != "" {
		t.Error("expected empty trace id without span")
	}
}
