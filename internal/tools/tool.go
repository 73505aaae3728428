// Package tools adapts the domain use cases into uniformly shaped tool calls
// for the language model.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/elisa/pkg/models"
)

// Caller identifies who a tool acts for and where the request came from.
// GroupID zero means the private thread.
type Caller struct {
	UserID  string
	GroupID int64
}

// Tool is one domain operation exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Schema is the JSON Schema of the arguments object.
	Schema() json.RawMessage
	// Sensitive tools are destructive or irreversible and need confirmation.
	Sensitive() bool
	// Execute runs the operation. Returned errors are classified by the registry.
	Execute(ctx context.Context, caller Caller, args json.RawMessage) (models.ToolResult, error)
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type funcTool[T any] struct {
	name        string
	description string
	schema      json.RawMessage
	sensitive   bool
	run         func(ctx context.Context, caller Caller, args T) (models.ToolResult, error)
}

// newTool builds a Tool whose argument schema is reflected from T.
func newTool[T any](name, description string, sensitive bool, run func(context.Context, Caller, T) (models.ToolResult, error)) Tool {
	var zero T
	return &funcTool[T]{
		name:        name,
		description: description,
		schema:      reflectSchema(&zero),
		sensitive:   sensitive,
		run:         run,
	}
}

func (t *funcTool[T]) Name() string            { return t.name }
func (t *funcTool[T]) Description() string     { return t.description }
func (t *funcTool[T]) Schema() json.RawMessage { return t.schema }
func (t *funcTool[T]) Sensitive() bool         { return t.sensitive }

func (t *funcTool[T]) Execute(ctx context.Context, caller Caller, raw json.RawMessage) (models.ToolResult, error) {
	var args T
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return models.ToolResult{}, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
	}
	return t.run(ctx, caller, args)
}
