package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/elisa/internal/tools"
	"github.com/haasonsaas/elisa/pkg/models"
)

// LLMProvider is a streaming language-model backend.
//
// Implementations must be safe for concurrent use: group conversations run
// in parallel and each calls Complete independently.
type LLMProvider interface {
	// Complete sends a request and returns a stream of chunks. The channel is
	// closed after a chunk with Done set.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name used in metrics and logs.
	Name() string

	// SupportsTools reports whether tool definitions are honoured.
	SupportsTools() bool
}

// CompletionRequest is one model round trip.
type CompletionRequest struct {
	// Model is the provider model id. Empty selects the provider default.
	Model string `json:"model"`

	// System is the system instruction, sent separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools are the tool definitions offered to the model.
	Tools []tools.Definition `json:"tools,omitempty"`

	// MaxTokens bounds the response. Zero selects the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is one conversation entry sent to the model.
// Role is "user", "assistant" or "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResultMessage `json:"tool_results,omitempty"`
}

// ToolResultMessage carries one tool outcome back to the model.
type ToolResultMessage struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// CompletionChunk is one piece of a streamed response.
type CompletionChunk struct {
	// Text is a fragment of the assistant answer.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete tool request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done marks the end of the stream.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Completion is a fully collected response.
type Completion struct {
	Text         string
	ToolCalls    []models.ToolCall
	InputTokens  int
	OutputTokens int
}

// Limits on a single collected response.
const (
	MaxResponseTextSize      = 256 * 1024
	MaxToolCallsPerIteration = 16
)

// Collect drains a chunk stream into a Completion. It stops at the first
// chunk error or when ctx is done.
func Collect(ctx context.Context, stream <-chan *CompletionChunk) (*Completion, error) {
	var text strings.Builder
	out := &Completion{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				out.Text = text.String()
				return out, nil
			}
			if chunk == nil {
				continue
			}
			if chunk.Error != nil {
				return nil, chunk.Error
			}
			if chunk.Text != "" {
				if text.Len()+len(chunk.Text) > MaxResponseTextSize {
					return nil, errors.New("response text exceeds maximum size")
				}
				text.WriteString(chunk.Text)
			}
			if chunk.ToolCall != nil {
				if len(out.ToolCalls) >= MaxToolCallsPerIteration {
					return nil, errors.New("too many tool calls in one response")
				}
				call := *chunk.ToolCall
				if call.ID == "" {
					call.ID = "call_" + strconv.Itoa(len(out.ToolCalls)+1)
				}
				if len(call.Args) == 0 {
					call.Args = json.RawMessage(`{}`)
				}
				out.ToolCalls = append(out.ToolCalls, call)
			}
			out.InputTokens += chunk.InputTokens
			out.OutputTokens += chunk.OutputTokens
			if chunk.Done {
				out.Text = text.String()
				return out, nil
			}
		}
	}
}

// TextCompleter adapts a provider to a plain prompt-in, text-out call. The
// summary memory manager uses it for LLM summarization.
type TextCompleter struct {
	Provider  LLMProvider
	Model     string
	MaxTokens int
	// Timeout bounds the whole completion. Zero uses the loop default.
	Timeout time.Duration
}

// CompleteText runs one tool-less completion.
func (c TextCompleter) CompleteText(ctx context.Context, system, prompt string) (string, error) {
	if c.Provider == nil {
		return "", ErrNoProvider
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultLoopConfig().ModelTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stream, err := c.Provider.Complete(ctx, &CompletionRequest{
		Model:     c.Model,
		System:    system,
		Messages:  []CompletionMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	completion, err := Collect(ctx, stream)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(completion.Text), nil
}
