// Package providers implements agent.LLMProvider for hosted language models.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/elisa/internal/agent"
	"github.com/haasonsaas/elisa/internal/tools"
	"github.com/haasonsaas/elisa/pkg/models"
)

// maxEmptyStreamEvents is how many consecutive events without output are
// tolerated before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider implements agent.LLMProvider on the Messages API.
//
// The system instruction travels in params.System. Tool results are sent as
// tool_result blocks inside user turns, and consecutive turns with the same
// role are merged because the API requires alternation.
type AnthropicProvider struct {
	BaseProvider
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider creates the provider. Retries are handled here, so
// the SDK's own retries are disabled.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	options := []option.RequestOption{option.WithAPIKey(config.APIKey), option.WithMaxRetries(0)}
	if base := strings.TrimSpace(config.BaseURL); base != "" {
		options = append(options, option.WithBaseURL(base))
	}
	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
	}, nil
}

// SupportsTools reports tool use support.
func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Complete starts a streaming message. The first event is awaited inside
// the retry loop so that HTTP failures are retried.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.getModel(req.Model)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	err = p.Retry(ctx, func(err error) bool { return IsRetryable(err) }, func() error {
		stream = p.client.Messages.NewStreaming(ctx, params)
		if stream.Next() {
			return nil
		}
		streamErr := stream.Err()
		_ = stream.Close()
		if streamErr == nil {
			streamErr = errors.New("empty stream")
		}
		return p.wrapError(streamErr, model)
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		converted, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = converted
	}
	return params, nil
}

// processStream consumes a stream whose first event is already current.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	var currentCall *models.ToolCall
	var currentInput strings.Builder
	var inputTokens, outputTokens int
	emptyEvents := 0

	for ok := true; ok; ok = stream.Next() {
		event := stream.Current()
		produced := false

		switch event.Type {
		case "message_start":
			inputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)
			produced = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
			}
			produced = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(ctx, chunks, &agent.CompletionChunk{Text: delta.Text}) {
						return
					}
					produced = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					produced = true
				}
			}

		case "content_block_stop":
			if currentCall != nil {
				currentCall.Args = json.RawMessage(currentInput.String())
				if len(currentCall.Args) == 0 {
					currentCall.Args = json.RawMessage(`{}`)
				}
				if !send(ctx, chunks, &agent.CompletionChunk{ToolCall: currentCall}) {
					return
				}
				currentCall = nil
			}
			produced = true

		case "message_delta":
			if out := event.AsMessageDelta().Usage.OutputTokens; out > 0 {
				outputTokens = int(out)
			}
			produced = true

		case "message_stop":
			send(ctx, chunks, &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
			return

		case "error":
			send(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(errors.New("anthropic stream error"), model), Done: true})
			return
		}

		if produced {
			emptyEvents = 0
			continue
		}
		emptyEvents++
		if emptyEvents >= maxEmptyStreamEvents {
			send(ctx, chunks, &agent.CompletionChunk{
				Error: p.wrapError(fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents), model),
				Done:  true,
			})
			return
		}
	}

	err := stream.Err()
	if err == nil {
		err = errors.New("stream ended before message_stop")
	}
	send(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model), Done: true})
}

// convertAnthropicMessages maps the conversation to alternating turns. Leading
// assistant turns are dropped because the conversation must open with a user
// turn.
func convertAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	lastRole := ""
	for _, msg := range messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "assistant"
		}
		if len(result) == 0 && role == "assistant" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if strings.TrimSpace(msg.Content) != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Args) > 0 {
				if err := json.Unmarshal(tc.Args, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
			}
			if input == nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if role == lastRole {
			prev := &result[len(result)-1]
			prev.Content = append(prev.Content, content...)
			continue
		}
		if role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
		lastRole = role
	}
	return result, nil
}

func convertAnthropicTools(defs []tools.Definition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}
	return result, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewProviderError("anthropic", model, err)
	}

	providerErr := (&ProviderError{Provider: "anthropic", Model: model, Cause: err, Reason: ReasonUnknown}).
		WithStatus(apiErr.StatusCode).
		WithMessage("anthropic request failed")
	requestID := apiErr.RequestID
	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				providerErr = providerErr.WithMessage(payload.Error.Message)
			}
			if payload.Error.Type != "" {
				providerErr = providerErr.WithCode(payload.Error.Type)
			}
			if payload.RequestID != "" {
				requestID = payload.RequestID
			}
		}
	}
	if requestID != "" {
		providerErr = providerErr.WithRequestID(requestID)
	}
	return providerErr
}

var _ agent.LLMProvider = (*AnthropicProvider)(nil)
