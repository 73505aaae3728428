package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	agentctx "github.com/haasonsaas/elisa/internal/agent/context"
	"github.com/haasonsaas/elisa/internal/observability"
	"github.com/haasonsaas/elisa/internal/state"
	"github.com/haasonsaas/elisa/internal/tools"
	"github.com/haasonsaas/elisa/pkg/models"
)

// ToolExecutor runs tool calls for the loop. *tools.Registry implements it.
type ToolExecutor interface {
	Definitions() []tools.Definition
	IsSensitive(name string) bool
	Execute(ctx context.Context, name string, args json.RawMessage, caller tools.Caller) models.ToolResult
}

// LoopConfig bounds one exchange.
type LoopConfig struct {
	// Model is passed to the provider. Empty selects the provider default.
	Model string

	// AssistantName is used in the system prompt.
	AssistantName string

	// MaxToolRounds caps model round trips per exchange.
	// Default: 4
	MaxToolRounds int

	// ModelTimeout bounds each model call.
	// Default: 45s
	ModelTimeout time.Duration

	// MaxTokens caps each response.
	// Default: 1024
	MaxTokens int
}

// DefaultLoopConfig returns the default bounds.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		AssistantName: DefaultAssistantName,
		MaxToolRounds: 4,
		ModelTimeout:  45 * time.Second,
		MaxTokens:     1024,
	}
}

func sanitizeLoopConfig(config LoopConfig) LoopConfig {
	defaults := DefaultLoopConfig()
	if strings.TrimSpace(config.AssistantName) == "" {
		config.AssistantName = defaults.AssistantName
	}
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = defaults.MaxToolRounds
	}
	if config.ModelTimeout <= 0 {
		config.ModelTimeout = defaults.ModelTimeout
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	return config
}

// Exchange is one user input handed to the loop.
type Exchange struct {
	UserID  string
	GroupID int64

	// Context is the assembled conversation, oldest first. The last user
	// message is the one being answered.
	Context []models.Message

	// Resume carries the continuation of a pending follow-up.
	Resume *state.FollowUpContext
}

// Outcome tells the caller how an exchange ended.
type Outcome string

const (
	OutcomeAnswered              Outcome = "answered"
	OutcomeConfirmationRequested Outcome = "confirmation_requested"
	OutcomeDisambiguation        Outcome = "disambiguation"
	OutcomeRoundsExhausted       Outcome = "rounds_exhausted"
	OutcomeFailed                Outcome = "failed"
)

// Result is the outcome of one exchange. Reply is always safe to show.
type Result struct {
	Reply        string
	Actions      []models.AssistantAction
	ToolFailures []models.ToolFailure
	Outcome      Outcome
	ErrorID      string
	Rounds       int

	// Confirmation is set when a sensitive call was held back.
	Confirmation *state.PendingConfirmation

	// Candidates is set when a reference was ambiguous.
	Candidates []models.ToolCandidate
}

// Loop drives the bounded tool-calling conversation with the model.
type Loop struct {
	provider        LLMProvider
	executor        ToolExecutor
	slots           *state.Slots
	approvals       *ApprovalChecker
	requireApproval []string
	config          LoopConfig
	logger          *slog.Logger
	metrics         *observability.Metrics
	tracer          *observability.Tracer
	now             func() time.Time
	newErrorID      func() string
}

// NewLoop wires a loop. slots receives pending confirmations and follow-ups.
func NewLoop(provider LLMProvider, executor ToolExecutor, slots *state.Slots, config LoopConfig, opts ...LoopOption) *Loop {
	l := &Loop{
		provider:   provider,
		executor:   executor,
		slots:      slots,
		config:     sanitizeLoopConfig(config),
		logger:     slog.Default(),
		now:        time.Now,
		newErrorID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = l.logger.With("component", "agent")
	l.approvals = NewApprovalChecker(executor, slots, l.requireApproval)
	return l
}

// Config returns the effective loop bounds.
func (l *Loop) Config() LoopConfig {
	return l.config
}

// Run answers one exchange. It returns a non-nil Result whenever the loop
// started; err reports an exchange that did not reach a final answer, either
// a *ModelError, ErrToolTimeout or ErrRoundsExhausted wrapped in a
// *LoopError. A failed round never creates or clears a slot.
func (l *Loop) Run(ctx context.Context, ex Exchange) (*Result, error) {
	if l.provider == nil {
		return nil, &LoopError{Phase: PhaseInit, Cause: ErrNoProvider}
	}
	if strings.TrimSpace(ex.UserID) == "" {
		return nil, &LoopError{Phase: PhaseInit, Message: "user id is required"}
	}
	caller := tools.Caller{UserID: ex.UserID, GroupID: ex.GroupID}
	system, messages := l.buildConversation(ex)

	var defs []tools.Definition
	if l.provider.SupportsTools() {
		defs = l.executor.Definitions()
	}

	res := &Result{}
	partial := ""
	for round := 1; round <= l.config.MaxToolRounds; round++ {
		res.Rounds = round
		completion, err := l.complete(ctx, &CompletionRequest{
			Model:     l.config.Model,
			System:    system,
			Messages:  messages,
			Tools:     defs,
			MaxTokens: l.config.MaxTokens,
		}, round)
		if err != nil {
			return l.modelFailure(ctx, res, round, err)
		}

		partial = strings.TrimSpace(completion.Text)
		if len(completion.ToolCalls) == 0 {
			res.Reply = partial
			res.Outcome = OutcomeAnswered
			l.finish(ctx, ex, res)
			return res, nil
		}

		messages = append(messages, CompletionMessage{
			Role:      "assistant",
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})
		results := make([]ToolResultMessage, 0, len(completion.ToolCalls))
		for _, call := range completion.ToolCalls {
			if l.approvals.Check(call) == ApprovalPending {
				pc, err := l.approvals.CreateApprovalRequest(ctx, caller, call)
				if err != nil {
					return l.internalFailure(ctx, res, PhaseGate, round, err)
				}
				res.Confirmation = pc
				res.Outcome = OutcomeConfirmationRequested
				res.Reply = ConfirmationQuestion(pc.Prompt)
				l.finish(ctx, ex, res)
				return res, nil
			}

			result := l.executor.Execute(ctx, call.Name, call.Args, caller)
			if result.IsAmbiguous() {
				if err := l.requestDisambiguation(ctx, caller, call, result, lastUserText(ex.Context), res); err != nil {
					return l.internalFailure(ctx, res, PhaseExecuteTools, round, err)
				}
				l.finish(ctx, ex, res)
				return res, nil
			}
			l.collectResult(res, call, result)
			if result.Kind == models.KindTimeout {
				res.Outcome = OutcomeFailed
				res.ErrorID = result.ErrorID
				res.Reply = FailureReply(result.ErrorID)
				l.finish(ctx, ex, res)
				return res, &LoopError{Phase: PhaseExecuteTools, Round: round, Cause: fmt.Errorf("%w: %s", ErrToolTimeout, call.Name)}
			}

			content, err := json.Marshal(result)
			if err != nil {
				content = []byte(`{"ok":false,"error":"result could not be encoded"}`)
			}
			results = append(results, ToolResultMessage{ToolCallID: call.ID, Content: string(content), IsError: !result.OK})
		}
		messages = append(messages, CompletionMessage{Role: "tool", ToolResults: results})
	}

	res.Outcome = OutcomeRoundsExhausted
	if partial == "" {
		res.Reply = roundsExhaustedMsg
	} else {
		res.Reply = partial + "\n\n" + roundsExhaustedMsg
	}
	l.finish(ctx, ex, res)
	return res, &LoopError{Phase: PhaseComplete, Round: res.Rounds, Cause: ErrRoundsExhausted}
}

// ExecuteConfirmed runs a call the user explicitly confirmed, without
// consulting the model.
func (l *Loop) ExecuteConfirmed(ctx context.Context, userID string, groupID int64, pc state.PendingConfirmation) (*Result, error) {
	caller := tools.Caller{UserID: userID, GroupID: groupID}
	description := pc.Prompt
	if description == "" {
		description = tools.Describe(pc.ToolName, pc.ToolArgs)
	}
	call := models.ToolCall{ID: "confirmed", Name: pc.ToolName, Args: pc.ToolArgs}
	result := l.executor.Execute(ctx, pc.ToolName, pc.ToolArgs, caller)

	res := &Result{}
	switch {
	case result.IsAmbiguous():
		if err := l.requestDisambiguation(ctx, caller, call, result, "", res); err != nil {
			return l.internalFailure(ctx, res, PhaseExecuteTools, 0, err)
		}
	case result.OK:
		l.collectResult(res, call, result)
		res.Outcome = OutcomeAnswered
		res.Reply = ConfirmedReply(description)
	default:
		l.collectResult(res, call, result)
		res.Outcome = OutcomeFailed
		res.ErrorID = result.ErrorID
		res.Reply = ConfirmedFailureReply(description, result)
	}
	l.logger.InfoContext(ctx, "confirmed tool call executed",
		"tool", pc.ToolName,
		"outcome", string(res.Outcome),
		"actions", len(res.Actions),
	)
	return res, nil
}

func (l *Loop) complete(ctx context.Context, req *CompletionRequest, round int) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.ModelTimeout)
	defer cancel()
	ctx, span := l.tracer.TraceModelCall(ctx, l.provider.Name(), req.Model, round)
	defer span.End()

	start := time.Now()
	stream, err := l.provider.Complete(ctx, req)
	var completion *Completion
	if err == nil {
		completion, err = Collect(ctx, stream)
	}

	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		l.tracer.RecordError(span, err)
	}
	l.metrics.RecordModelRequest(l.provider.Name(), status, time.Since(start).Seconds())
	return completion, err
}

func (l *Loop) requestDisambiguation(ctx context.Context, caller tools.Caller, call models.ToolCall, result models.ToolResult, userText string, res *Result) error {
	prompt := DisambiguationQuestion(result.Candidates)
	err := l.slots.SetFollowUp(ctx, caller.GroupID, caller.UserID, state.FollowUpContext{
		Kind:       state.FollowUpDisambiguation,
		Prompt:     prompt,
		UserText:   userText,
		ToolName:   call.Name,
		ToolArgs:   call.Args,
		Candidates: result.Candidates,
	})
	if err != nil {
		return fmt.Errorf("store disambiguation: %w", err)
	}
	res.Outcome = OutcomeDisambiguation
	res.Candidates = result.Candidates
	res.Reply = prompt
	return nil
}

func (l *Loop) collectResult(res *Result, call models.ToolCall, result models.ToolResult) {
	if result.OK {
		if result.Action != nil {
			res.Actions = append(res.Actions, *result.Action)
		}
		return
	}
	res.ToolFailures = append(res.ToolFailures, models.ToolFailure{
		Tool:    call.Name,
		Error:   result.Error,
		ErrorID: result.ErrorID,
		Kind:    result.Kind,
	})
}

func (l *Loop) modelFailure(ctx context.Context, res *Result, round int, cause error) (*Result, error) {
	me := &ModelError{Provider: l.provider.Name(), ErrorID: l.newErrorID(), Cause: cause}
	l.logger.ErrorContext(ctx, "model call failed",
		"provider", me.Provider,
		"round", round,
		"error_id", me.ErrorID,
		"error", cause,
	)
	res.Outcome = OutcomeFailed
	res.ErrorID = me.ErrorID
	res.Reply = FailureReply(me.ErrorID)
	return res, &LoopError{Phase: PhaseStream, Round: round, Cause: me}
}

func (l *Loop) internalFailure(ctx context.Context, res *Result, phase LoopPhase, round int, cause error) (*Result, error) {
	errorID := l.newErrorID()
	l.logger.ErrorContext(ctx, "exchange failed",
		"phase", string(phase),
		"round", round,
		"error_id", errorID,
		"error", cause,
	)
	res.Outcome = OutcomeFailed
	res.ErrorID = errorID
	res.Reply = FailureReply(errorID)
	return res, &LoopError{Phase: phase, Round: round, Cause: cause}
}

func (l *Loop) finish(ctx context.Context, ex Exchange, res *Result) {
	l.logger.InfoContext(ctx, "exchange finished",
		"group_id", ex.GroupID,
		"outcome", string(res.Outcome),
		"rounds", res.Rounds,
		"actions", len(res.Actions),
		"tool_failures", len(res.ToolFailures),
	)
}

// buildConversation turns assembled context into the system instruction and
// the model message list. Summary messages are folded into the system
// instruction so they are never presented as user content.
func (l *Loop) buildConversation(ex Exchange) (string, []CompletionMessage) {
	var system strings.Builder
	system.WriteString(SystemPrompt(l.config.AssistantName, l.now()))
	if ex.GroupID != 0 {
		system.WriteString("\n\n")
		system.WriteString(groupSurfaceNote)
	}

	messages := make([]CompletionMessage, 0, len(ex.Context))
	for _, m := range ex.Context {
		switch {
		case agentctx.IsSummary(m):
			system.WriteString("\n\n")
			system.WriteString(summaryHeading)
			system.WriteString("\n")
			system.WriteString(strings.TrimSpace(strings.TrimPrefix(m.Text, agentctx.SummaryPrefix)))
		case m.Role == models.RoleAssistant:
			messages = append(messages, CompletionMessage{Role: "assistant", Content: m.Text})
		case m.Role == models.RoleUser:
			content := m.Text
			if ex.GroupID != 0 && m.AuthorName != "" {
				content = m.AuthorName + ": " + m.Text
			}
			messages = append(messages, CompletionMessage{Role: "user", Content: content})
		}
	}
	if ex.Resume != nil {
		system.WriteString("\n\n")
		system.WriteString(resumeNote(ex.Resume, lastUserText(ex.Context)))
	}
	return system.String(), messages
}

func lastUserText(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Text
		}
	}
	return ""
}
