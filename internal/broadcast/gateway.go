package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/elisa/internal/observability"
	"github.com/haasonsaas/elisa/pkg/models"
)

// Gateway turns committed actions and assistant replies into events. It
// implements tools.ActionSink.
type Gateway struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	nowFunc   func() time.Time
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics counts published events.
func WithMetrics(metrics *observability.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = metrics }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.nowFunc = now
		}
	}
}

// NewGateway wraps publisher. A nil publisher drops everything.
func NewGateway(publisher Publisher, opts ...GatewayOption) *Gateway {
	if publisher == nil {
		publisher = Nop{}
	}
	g := &Gateway{publisher: publisher, logger: slog.Default(), nowFunc: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "broadcast")
	return g
}

// ActionCommitted publishes the events of a committed action.
func (g *Gateway) ActionCommitted(ctx context.Context, groupID int64, action models.AssistantAction) {
	for _, event := range EventsForAction(action, g.nowFunc()) {
		g.publish(ctx, event, "source_group_id", groupID)
	}
}

// AssistantReplied announces an assistant message posted in a group.
func (g *Gateway) AssistantReplied(ctx context.Context, msg AssistantMessage) {
	if msg.GroupID <= 0 || msg.Text == "" {
		return
	}
	if msg.Author == "" {
		msg.Author = "assistant"
	}
	g.publish(ctx, Event{Name: EventMessageCreated, Room: GroupRoom(msg.GroupID), Payload: msg, At: g.nowFunc()})
}

func (g *Gateway) publish(ctx context.Context, event Event, attrs ...any) {
	if err := g.publisher.Publish(ctx, event); err != nil {
		g.metrics.RecordBroadcast(event.Name, "error")
		g.logger.WarnContext(ctx, "broadcast failed",
			append([]any{"event", event.Name, "room", event.Room, "error", err}, attrs...)...)
		return
	}
	g.metrics.RecordBroadcast(event.Name, "sent")
}
