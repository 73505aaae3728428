package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/elisa/internal/observability"
	"github.com/haasonsaas/elisa/pkg/models"
)

const (
	// MaxToolNameLength bounds tool names accepted from the model.
	MaxToolNameLength = 64
	// MaxToolArgsSize bounds the raw argument payload.
	MaxToolArgsSize = 64 * 1024
	// DefaultToolTimeout bounds one tool execution.
	DefaultToolTimeout = 15 * time.Second
)

// SensitivePatterns name tools that always need confirmation, whatever the
// tool itself declares.
var SensitivePatterns = []string{"delete*", "leave*", "remove*"}

// ActionSink receives every action a tool commits.
type ActionSink interface {
	ActionCommitted(ctx context.Context, groupID int64, action models.AssistantAction)
}

// Registry holds the tools and executes them. Execute never panics and never
// returns an error: every failure becomes a failed ToolResult.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema

	timeout    time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	sink       ActionSink
	newErrorID func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the per-execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics enables execution metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithTracer enables per-execution spans.
func WithTracer(t *observability.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

// WithActionSink forwards committed actions, e.g. to the realtime gateway.
func WithActionSink(sink ActionSink) Option {
	return func(r *Registry) { r.sink = sink }
}

// WithErrorIDs overrides the correlation id generator.
func WithErrorIDs(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newErrorID = fn
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:      make(map[string]Tool),
		schemas:    make(map[string]*jsonschema.Schema),
		timeout:    DefaultToolTimeout,
		logger:     slog.Default(),
		newErrorID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Names must be unique and schemas must compile.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("register tool: invalid name %q", name)
	}
	schema, err := compileSchema(name, tool.Schema())
	if err != nil {
		return fmt.Errorf("register tool %s: compile schema: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool %s: already registered", name)
	}
	r.tools[name] = tool
	r.schemas[name] = schema
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions lists the registered tools sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, Definition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// IsSensitive reports whether calls to name must pass the confirmation gate.
func (r *Registry) IsSensitive(name string) bool {
	if tool, ok := r.Get(name); ok && tool.Sensitive() {
		return true
	}
	return matchesPattern(SensitivePatterns, name)
}

// Execute validates the arguments and runs the named tool for caller.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, caller Caller) models.ToolResult {
	start := time.Now()
	ctx, span := r.tracer.TraceToolCall(ctx, name)
	defer span.End()

	result := r.execute(ctx, name, args, caller)

	status := "success"
	switch {
	case result.IsAmbiguous():
		status = "ambiguous"
	case result.Kind == models.KindTimeout:
		status = "timeout"
	case !result.OK:
		status = "error"
	}
	r.metrics.RecordToolExecution(name, status, time.Since(start).Seconds())

	if !result.OK && !result.IsAmbiguous() {
		if result.ErrorID == "" {
			result.ErrorID = r.newErrorID()
		}
		r.tracer.RecordError(span, errors.New(result.Error))
		r.logger.WarnContext(ctx, "tool execution failed",
			"tool", name,
			"kind", string(result.Kind),
			"error_id", result.ErrorID,
			"error", result.Error,
		)
	}
	if result.OK && result.Action != nil {
		if err := result.Action.Validate(); err != nil {
			r.logger.ErrorContext(ctx, "tool produced an invalid action", "tool", name, "error", err)
			result.Action = nil
		} else if r.sink != nil {
			r.sink.ActionCommitted(ctx, caller.GroupID, *result.Action)
		}
	}
	return result
}

func (r *Registry) execute(ctx context.Context, name string, args json.RawMessage, caller Caller) models.ToolResult {
	if len(name) > MaxToolNameLength {
		return models.Failure(models.KindValidation, "tool name too long", "")
	}
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return models.Failure(models.KindValidation, fmt.Sprintf("%s: %s", ErrUnknownTool, name), "")
	}
	if strings.TrimSpace(caller.UserID) == "" {
		return models.Failure(models.KindAuthorization, "caller is not identified", "")
	}
	if len(args) > MaxToolArgsSize {
		return models.Failure(models.KindValidation, fmt.Sprintf("arguments exceed %d bytes", MaxToolArgsSize), "")
	}
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return models.Failure(models.KindValidation, "arguments are not valid JSON", "")
	}
	if err := schema.Validate(decoded); err != nil {
		return models.Failure(models.KindValidation, "invalid arguments: "+validationMessage(err), "")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan toolOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.ErrorContext(ctx, "tool panicked", "tool", name, "panic", fmt.Sprint(p))
				done <- toolOutcome{err: fmt.Errorf("tool %s panicked", name)}
			}
		}()
		res, err := tool.Execute(ctx, caller, args)
		done <- toolOutcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		go r.settleLate(context.WithoutCancel(ctx), name, caller, done)
		kind, msg := classify(ctx.Err())
		return models.Failure(kind, msg, "")
	case out := <-done:
		if out.err != nil {
			kind, msg := classify(out.err)
			return models.Failure(kind, msg, "")
		}
		return out.result
	}
}

type toolOutcome struct {
	result models.ToolResult
	err    error
}

// settleLate waits for a tool that outlived its deadline. The caller has
// already been told it failed, so a change it still commits is only logged
// and forwarded to the sink.
func (r *Registry) settleLate(ctx context.Context, name string, caller Caller, done <-chan toolOutcome) {
	out := <-done
	if out.err != nil || !out.result.OK || out.result.Action == nil {
		return
	}
	action := *out.result.Action
	if err := action.Validate(); err != nil {
		return
	}
	r.logger.WarnContext(ctx, "tool committed after its deadline",
		"tool", name,
		"action", string(action.Type),
		"id", action.ID,
	)
	if r.sink != nil {
		r.sink.ActionCommitted(ctx, caller.GroupID, action)
	}
}

func validationMessage(err error) string {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
		if loc == "" {
			return leaf.Message
		}
		return loc + ": " + leaf.Message
	}
	return err.Error()
}

// matchesPattern supports exact names, "prefix*", "*suffix" and "*".
func matchesPattern(patterns []string, name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
		case pattern == "*", pattern == lower:
			return true
		case strings.HasSuffix(pattern, "*") && strings.HasPrefix(lower, strings.TrimSuffix(pattern, "*")):
			return true
		case strings.HasPrefix(pattern, "*") && strings.HasSuffix(lower, strings.TrimPrefix(pattern, "*")):
			return true
		}
	}
	return false
}
