// Package router decides what happens to each incoming message: a pending
// confirmation or follow-up is resolved, a greeting is answered directly,
// an addressed message goes to the agent loop, and anything else in a group
// is considered for a proactive task suggestion.
//
// Messages with the same (group, user) key are processed in arrival order.
// Different keys never wait on each other.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/elisa/internal/agent"
	agentctx "github.com/haasonsaas/elisa/internal/agent/context"
	"github.com/haasonsaas/elisa/internal/broadcast"
	"github.com/haasonsaas/elisa/internal/cache"
	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/internal/locks"
	"github.com/haasonsaas/elisa/internal/memory"
	"github.com/haasonsaas/elisa/internal/observability"
	"github.com/haasonsaas/elisa/internal/state"
	"github.com/haasonsaas/elisa/internal/threads"
	"github.com/haasonsaas/elisa/pkg/models"
)

// Surfaces.
const (
	SurfacePrivate = "private"
	SurfaceGroup   = "group"
)

// Route names the handler that claimed a message.
type Route string

const (
	RouteDuplicate Route = "duplicate"
	RouteGreeting  Route = "greeting"
	RouteConfirmed Route = "confirmed"
	RouteCancelled Route = "cancelled"
	RouteFollowUp  Route = "follow_up"
	RouteMention   Route = "mention"
	RouteAgent     Route = "agent"
	RouteProactive Route = "proactive"
	RouteIgnored   Route = "ignored"
)

var (
	// ErrUserRequired is returned for messages without a sender.
	ErrUserRequired = errors.New("router: user id is required")
	// ErrTextRequired is returned for empty messages.
	ErrTextRequired = errors.New("router: message text is required")
	// ErrGroupRequired is returned by group entry points without a group.
	ErrGroupRequired = errors.New("router: group id is required")
)

// Agent runs exchanges. *agent.Loop implements it.
type Agent interface {
	Run(ctx context.Context, ex agent.Exchange) (*agent.Result, error)
	ExecuteConfirmed(ctx context.Context, userID string, groupID int64, pc state.PendingConfirmation) (*agent.Result, error)
}

// Announcer publishes assistant replies posted in groups.
// *broadcast.Gateway implements it.
type Announcer interface {
	AssistantReplied(ctx context.Context, msg broadcast.AssistantMessage)
}

// Message is one inbound chat message.
type Message struct {
	ID         string
	UserID     string
	GroupID    int64
	AuthorName string
	Text       string
}

// Options qualify a ProcessMessage call.
type Options struct {
	// SourceGroupID is the group the message was sent from. Tools default
	// to it and the group chat is used as context.
	SourceGroupID int64
	// SkipThreadHistory neither reads nor appends the private thread.
	SkipThreadHistory bool
	// MessageID identifies the delivery for deduplication.
	MessageID  string
	AuthorName string
}

// Response is what the router produced for one message.
type Response struct {
	Reply        string                   `json:"reply"`
	Actions      []models.AssistantAction `json:"actions"`
	ToolFailures []models.ToolFailure     `json:"toolFailures"`
	Route        Route                    `json:"route"`
	Outcome      string                   `json:"outcome,omitempty"`
	ErrorID      string                   `json:"errorId,omitempty"`
}

func newResponse(route Route, reply string) *Response {
	return &Response{
		Reply:        reply,
		Actions:      []models.AssistantAction{},
		ToolFailures: []models.ToolFailure{},
		Route:        route,
	}
}

func fromResult(res *agent.Result, route Route) *Response {
	resp := newResponse(route, res.Reply)
	resp.Actions = append(resp.Actions, res.Actions...)
	resp.ToolFailures = append(resp.ToolFailures, res.ToolFailures...)
	resp.Outcome = string(res.Outcome)
	resp.ErrorID = res.ErrorID
	return resp
}

// Config configures a Router.
type Config struct {
	AssistantName string
	Phrases       Phrases
	// DedupeTTL is how long a message id is remembered.
	DedupeTTL  time.Duration
	DedupeSize int
}

// Deps are the collaborators of a Router. Agent and Slots are required.
type Deps struct {
	Agent     Agent
	Slots     *state.Slots
	Assembler *agentctx.Assembler
	Threads   threads.Store
	Memory    *memory.Manager
	UseCases  domain.UseCases
	Announcer Announcer
}

// Router is the message state machine.
type Router struct {
	deps    Deps
	name    string
	matcher atomic.Pointer[matcher]
	dedupe  *cache.DedupeCache
	order   *locks.KeyedMutex
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	nowFunc func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records routing metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Router) { r.metrics = metrics }
}

// WithTracer traces each message.
func WithTracer(tracer *observability.Tracer) Option {
	return func(r *Router) { r.tracer = tracer }
}

// WithClock overrides the time source used for message timestamps and the
// dedupe cache.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.nowFunc = now
		}
	}
}

// New creates a router.
func New(deps Deps, cfg Config, opts ...Option) (*Router, error) {
	if deps.Agent == nil {
		return nil, errors.New("router: agent is required")
	}
	if deps.Slots == nil {
		return nil, errors.New("router: state slots are required")
	}
	if deps.Assembler == nil {
		deps.Assembler = agentctx.NewAssembler(agentctx.Limits{})
	}
	r := &Router{
		deps:    deps,
		name:    strings.TrimSpace(cfg.AssistantName),
		order:   locks.NewKeyedMutex(),
		logger:  slog.Default(),
		nowFunc: time.Now,
	}
	if r.name == "" {
		r.name = agent.DefaultAssistantName
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	r.dedupe = cache.NewDedupeCache(cache.Options{TTL: cfg.DedupeTTL, MaxSize: cfg.DedupeSize, Now: r.nowFunc})
	r.matcher.Store(newMatcher(cfg.Phrases))
	return r, nil
}

// SetPhrases swaps the phrase lists. Safe to call while messages are routed.
func (r *Router) SetPhrases(p Phrases) {
	r.matcher.Store(newMatcher(p))
	r.logger.Info("phrases updated")
}

func (r *Router) phrases() *matcher {
	return r.matcher.Load()
}

// inbound is a message plus where it came from.
type inbound struct {
	Message
	surface    string
	skipThread bool
}

func (in inbound) validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return ErrUserRequired
	}
	if strings.TrimSpace(in.Text) == "" {
		return ErrTextRequired
	}
	if in.surface == SurfaceGroup && in.GroupID <= 0 {
		return ErrGroupRequired
	}
	return nil
}

func groupInbound(msg Message) inbound {
	return inbound{Message: msg, surface: SurfaceGroup, skipThread: true}
}

type handlerFunc func(ctx context.Context, in inbound) (*Response, error)

// ProcessMessage handles a message addressed to the assistant in the
// user's private thread.
func (r *Router) ProcessMessage(ctx context.Context, userID, text string, opts Options) (*Response, error) {
	in := inbound{
		Message: Message{
			ID:         opts.MessageID,
			UserID:     userID,
			GroupID:    opts.SourceGroupID,
			AuthorName: opts.AuthorName,
			Text:       text,
		},
		surface:    SurfacePrivate,
		skipThread: opts.SkipThreadHistory,
	}
	return r.handle(ctx, in, true, r.routePrivate)
}

// HandleGroupMessage runs the full state machine for a group chat message.
// The message is expected to be stored in the group history already.
func (r *Router) HandleGroupMessage(ctx context.Context, msg Message) (*Response, error) {
	return r.handle(ctx, groupInbound(msg), true, r.routeGroup)
}

// HandleMention sends a group message that addresses the assistant straight
// to the agent loop. Pending slots are left alone.
func (r *Router) HandleMention(ctx context.Context, msg Message) (*Response, error) {
	return r.handle(ctx, groupInbound(msg), true, func(ctx context.Context, in inbound) (*Response, error) {
		r.recordGroupMessage(ctx, in.GroupID)
		return r.mention(ctx, in)
	})
}

// HandleConfirmationReply resolves a pending confirmation with msg. It
// reports false when there is no live confirmation or msg is neither a yes
// nor a no.
func (r *Router) HandleConfirmationReply(ctx context.Context, msg Message) (*Response, bool, error) {
	return r.handleClaim(ctx, msg, r.confirmation)
}

// HandleFollowUpReply resumes a pending follow-up with msg. It reports false
// when there is no live follow-up or msg does not answer it.
func (r *Router) HandleFollowUpReply(ctx context.Context, msg Message) (*Response, bool, error) {
	return r.handleClaim(ctx, msg, r.followUp)
}

// MaintainSummary folds pending messages of a group into its summary.
func (r *Router) MaintainSummary(ctx context.Context, groupID int64) (bool, error) {
	if r.deps.Memory == nil {
		return false, nil
	}
	return r.deps.Memory.Maintain(ctx, groupID)
}

// MaintainSummaries runs MaintainSummary for every group with pending
// messages.
func (r *Router) MaintainSummaries(ctx context.Context) (int, error) {
	if r.deps.Memory == nil {
		return 0, nil
	}
	return r.deps.Memory.MaintainAll(ctx)
}

type claimFunc func(ctx context.Context, in inbound) (*Response, bool, error)

func (r *Router) handleClaim(ctx context.Context, msg Message, claim claimFunc) (*Response, bool, error) {
	claimed := false
	resp, err := r.handle(ctx, groupInbound(msg), false, func(ctx context.Context, in inbound) (*Response, error) {
		resp, ok, err := claim(ctx, in)
		claimed = ok
		if err != nil || ok {
			return resp, err
		}
		return newResponse(RouteIgnored, ""), nil
	})
	return resp, claimed, err
}

// handle wraps a handler with validation, deduplication, context fields,
// tracing and per-key ordering.
func (r *Router) handle(ctx context.Context, in inbound, dedupe bool, fn handlerFunc) (*Response, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	key := ""
	if dedupe {
		key = cache.MessageKey(in.surface, in.GroupID, in.ID)
		if r.dedupe.Check(key) {
			r.metrics.MessageRouted(in.surface, string(RouteDuplicate))
			r.logger.InfoContext(ctx, "duplicate message dropped", "message_id", in.ID, "group_id", in.GroupID)
			return newResponse(RouteDuplicate, ""), nil
		}
	}

	requestID := in.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = observability.AddRequestID(ctx, requestID)
	ctx = observability.AddUserID(ctx, in.UserID)
	ctx = observability.AddSurface(ctx, in.surface)
	if in.GroupID != 0 {
		ctx = observability.AddGroupID(ctx, in.GroupID)
	}
	ctx, span := r.tracer.TraceMessage(ctx, in.surface, in.GroupID)
	defer span.End()

	unlock := r.order.Lock(strconv.FormatInt(in.GroupID, 10) + ":" + in.UserID)
	defer unlock()

	resp, err := fn(ctx, in)
	if err != nil {
		r.dedupe.Forget(key)
		r.tracer.RecordError(span, err)
		r.logger.ErrorContext(ctx, "message handling failed", "error", err)
		return nil, err
	}
	r.metrics.MessageRouted(in.surface, string(resp.Route))
	r.logger.DebugContext(ctx, "message routed", "route", string(resp.Route), "actions", len(resp.Actions))
	return resp, nil
}

func (r *Router) routePrivate(ctx context.Context, in inbound) (*Response, error) {
	if resp, ok, err := r.confirmation(ctx, in); err != nil || ok {
		return resp, err
	}
	if resp, ok, err := r.followUp(ctx, in); err != nil || ok {
		return resp, err
	}
	if r.phrases().IsGreeting(in.Text) {
		return r.greet(ctx, in), nil
	}
	return r.runAgent(ctx, in, nil, RouteAgent)
}

func (r *Router) routeGroup(ctx context.Context, in inbound) (*Response, error) {
	r.recordGroupMessage(ctx, in.GroupID)
	if r.phrases().Mentioned(in.Text) {
		return r.mention(ctx, in)
	}
	if resp, ok, err := r.confirmation(ctx, in); err != nil || ok {
		return resp, err
	}
	if resp, ok, err := r.followUp(ctx, in); err != nil || ok {
		return resp, err
	}
	return r.proactive(ctx, in)
}

func (r *Router) mention(ctx context.Context, in inbound) (*Response, error) {
	if r.phrases().IsGreeting(in.Text) {
		return r.greet(ctx, in), nil
	}
	return r.runAgent(ctx, in, nil, RouteMention)
}

func (r *Router) greet(ctx context.Context, in inbound) *Response {
	resp := newResponse(RouteGreeting, greetingReply(r.name))
	r.complete(ctx, in, resp)
	return resp
}

// confirmation resolves a live pending confirmation when the message is a
// yes or a no. Anything else leaves the slot in place.
func (r *Router) confirmation(ctx context.Context, in inbound) (*Response, bool, error) {
	pending, err := r.deps.Slots.Confirmation(ctx, in.GroupID, in.UserID)
	if err != nil {
		return nil, false, err
	}
	if pending == nil {
		return nil, false, nil
	}
	answer := r.phrases().Classify(in.Text)
	if answer == AnswerNone {
		r.metrics.ConfirmationOutcome("unmatched")
		return nil, false, nil
	}

	taken, err := r.deps.Slots.TakeConfirmation(ctx, in.GroupID, in.UserID)
	if err != nil {
		return nil, false, err
	}
	if taken == nil {
		// Expired between the read and the take.
		r.metrics.ConfirmationOutcome("expired")
		return nil, false, nil
	}

	if answer == AnswerNo {
		r.metrics.ConfirmationOutcome("rejected")
		r.logger.InfoContext(ctx, "confirmation rejected", "tool", taken.ToolName)
		resp := newResponse(RouteCancelled, cancelledReply)
		r.complete(ctx, in, resp)
		return resp, true, nil
	}

	r.metrics.ConfirmationOutcome("approved")
	res, err := r.deps.Agent.ExecuteConfirmed(ctx, in.UserID, in.GroupID, *taken)
	if res == nil {
		return nil, false, err
	}
	if err != nil {
		r.logger.WarnContext(ctx, "confirmed call failed", "tool", taken.ToolName, "error_id", res.ErrorID, "error", err)
	}
	resp := fromResult(res, RouteConfirmed)
	r.complete(ctx, in, resp)
	return resp, true, nil
}

// followUp resumes a live follow-up. A proactive suggestion is only claimed
// by a yes or a no; other follow-ups claim any message but a bare greeting,
// which leaves the slot for the real answer.
func (r *Router) followUp(ctx context.Context, in inbound) (*Response, bool, error) {
	if r.phrases().IsGreeting(in.Text) {
		return nil, false, nil
	}
	pending, err := r.deps.Slots.FollowUp(ctx, in.GroupID, in.UserID)
	if err != nil {
		return nil, false, err
	}
	if pending == nil {
		return nil, false, nil
	}
	fc := pending.Context
	if fc.Kind == state.FollowUpProactive {
		switch r.phrases().Classify(in.Text) {
		case AnswerNone:
			return nil, false, nil
		case AnswerNo:
			if err := r.deps.Slots.ClearFollowUp(ctx, in.GroupID, in.UserID); err != nil {
				return nil, false, err
			}
			r.metrics.ProactiveOutcome("declined")
			resp := newResponse(RouteFollowUp, suggestionDeclinedText)
			r.complete(ctx, in, resp)
			return resp, true, nil
		}
		r.metrics.ProactiveOutcome("accepted")
	}
	resp, err := r.runAgent(ctx, in, &fc, RouteFollowUp)
	return resp, err == nil, err
}

// proactive considers an unclaimed group message for a task suggestion,
// at most once per cooldown for each (group, user).
func (r *Router) proactive(ctx context.Context, in inbound) (*Response, error) {
	if in.GroupID == 0 {
		return newResponse(RouteIgnored, ""), nil
	}
	title, ok := r.phrases().Suggestion(in.Text)
	if !ok {
		return newResponse(RouteIgnored, ""), nil
	}
	allowed, err := r.deps.Slots.TryProactive(ctx, in.GroupID, in.UserID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		r.metrics.ProactiveOutcome("suppressed")
		return newResponse(RouteIgnored, ""), nil
	}

	prompt := suggestionReply(title)
	err = r.deps.Slots.SetFollowUp(ctx, in.GroupID, in.UserID, state.FollowUpContext{
		Kind:           state.FollowUpProactive,
		Prompt:         prompt,
		UserText:       in.Text,
		SuggestedTitle: title,
	})
	if err != nil {
		return nil, err
	}
	r.metrics.ProactiveOutcome("suggested")
	r.logger.InfoContext(ctx, "proactive suggestion", "title", title)
	resp := newResponse(RouteProactive, prompt)
	r.complete(ctx, in, resp)
	return resp, nil
}

// runAgent assembles context, runs the loop and settles the follow-up slot.
func (r *Router) runAgent(ctx context.Context, in inbound, resume *state.FollowUpContext, route Route) (*Response, error) {
	incoming := models.Message{
		ID:         in.ID,
		UserID:     in.UserID,
		GroupID:    in.GroupID,
		AuthorName: in.AuthorName,
		Role:       models.RoleUser,
		Text:       in.Text,
		CreatedAt:  r.nowFunc(),
	}
	res, err := r.deps.Agent.Run(ctx, agent.Exchange{
		UserID:  in.UserID,
		GroupID: in.GroupID,
		Context: r.assemble(ctx, in, incoming),
		Resume:  resume,
	})
	if res == nil {
		return nil, err
	}
	if err != nil && !errors.Is(err, agent.ErrRoundsExhausted) {
		r.logger.WarnContext(ctx, "exchange ended without an answer", "outcome", string(res.Outcome), "error_id", res.ErrorID, "error", err)
	}
	r.settle(ctx, in, resume, res)
	resp := fromResult(res, route)
	r.complete(ctx, in, resp)
	return resp, nil
}

// settle updates the follow-up slot after an exchange. A failed exchange
// leaves every slot as it was.
func (r *Router) settle(ctx context.Context, in inbound, resume *state.FollowUpContext, res *agent.Result) {
	switch res.Outcome {
	case agent.OutcomeAnswered, agent.OutcomeRoundsExhausted, agent.OutcomeConfirmationRequested:
	default:
		return
	}
	if resume != nil {
		if err := r.deps.Slots.ClearFollowUp(ctx, in.GroupID, in.UserID); err != nil {
			r.logger.WarnContext(ctx, "clear follow-up failed", "error", err)
		}
	}
	// In a group the next message of the user is not addressed to the
	// assistant, so an open question is kept as a follow-up.
	if in.surface == SurfaceGroup && res.Outcome == agent.OutcomeAnswered && len(res.Actions) == 0 && isQuestion(res.Reply) {
		err := r.deps.Slots.SetFollowUp(ctx, in.GroupID, in.UserID, state.FollowUpContext{
			Kind:     state.FollowUpQuestion,
			Prompt:   res.Reply,
			UserText: in.Text,
		})
		if err != nil {
			r.logger.WarnContext(ctx, "store follow-up question failed", "error", err)
		}
	}
}

// assemble builds the model context. History that cannot be loaded is
// skipped so the user still gets an answer.
func (r *Router) assemble(ctx context.Context, in inbound, incoming models.Message) []models.Message {
	if in.GroupID != 0 {
		limit := r.deps.Assembler.Limits().MaxGroupContextMessages + 1
		var history []models.Message
		if r.deps.UseCases.History != nil {
			stored, err := r.deps.UseCases.History.RecentGroupMessages(ctx, in.GroupID, limit)
			if err != nil {
				r.logger.WarnContext(ctx, "load group history failed", "error", err)
			}
			for _, m := range stored {
				history = append(history, FromGroupMessage(m))
			}
			history = dropIncoming(history, incoming)
		}
		summary := ""
		if r.deps.Memory != nil {
			s, err := r.deps.Memory.Summary(ctx, in.GroupID)
			if err != nil {
				r.logger.WarnContext(ctx, "load group summary failed", "error", err)
			}
			summary = s
		}
		return r.deps.Assembler.Group(in.GroupID, history, summary, incoming)
	}

	if in.skipThread || r.deps.Threads == nil {
		return r.deps.Assembler.Thread(nil, incoming)
	}
	history, err := r.deps.Threads.Recent(ctx, in.UserID, r.deps.Assembler.Limits().MaxContextMessages)
	if err != nil {
		r.logger.WarnContext(ctx, "load thread failed", "error", err)
		history = nil
	}
	return r.deps.Assembler.Thread(history, incoming)
}

// dropIncoming removes the stored copy of the message being answered.
func dropIncoming(history []models.Message, incoming models.Message) []models.Message {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == models.RoleUser && last.UserID == incoming.UserID && last.Text == incoming.Text {
			return history[:n-1]
		}
	}
	return history
}

// complete records the exchange: the private thread for private messages,
// the group chat and broadcast for group messages.
func (r *Router) complete(ctx context.Context, in inbound, resp *Response) {
	switch in.surface {
	case SurfacePrivate:
		r.appendThread(ctx, in, resp)
	case SurfaceGroup:
		r.postGroupReply(ctx, in, resp)
	}
}

func (r *Router) appendThread(ctx context.Context, in inbound, resp *Response) {
	if in.skipThread || r.deps.Threads == nil {
		return
	}
	now := r.nowFunc()
	user := models.Message{
		ID:         in.ID,
		UserID:     in.UserID,
		GroupID:    in.GroupID,
		AuthorName: in.AuthorName,
		Role:       models.RoleUser,
		Text:       in.Text,
		CreatedAt:  now,
	}
	if err := r.deps.Threads.Append(ctx, in.UserID, user); err != nil {
		r.logger.WarnContext(ctx, "append thread failed", "error", err)
		return
	}
	if resp.Reply == "" || resp.Outcome == string(agent.OutcomeFailed) {
		return
	}
	reply := models.Message{UserID: in.UserID, GroupID: in.GroupID, Role: models.RoleAssistant, Text: resp.Reply, CreatedAt: now}
	if err := r.deps.Threads.Append(ctx, in.UserID, reply); err != nil {
		r.logger.WarnContext(ctx, "append thread failed", "error", err)
	}
}

func (r *Router) postGroupReply(ctx context.Context, in inbound, resp *Response) {
	if resp.Reply == "" {
		return
	}
	msg := broadcast.AssistantMessage{
		GroupID: in.GroupID,
		Author:  r.name,
		Text:    resp.Reply,
		ReplyTo: in.ID,
		ErrorID: resp.ErrorID,
	}
	if r.deps.UseCases.Messages != nil {
		stored, err := r.deps.UseCases.Messages.RecordAssistantMessage(ctx, in.GroupID, resp.Reply)
		if err != nil {
			r.logger.WarnContext(ctx, "store assistant reply failed", "error", err)
		} else {
			msg.ID = stored.ID
			r.recordGroupMessage(ctx, in.GroupID)
		}
	}
	if r.deps.Announcer != nil {
		r.deps.Announcer.AssistantReplied(ctx, msg)
	}
}

// recordGroupMessage counts a group message toward the next summary.
func (r *Router) recordGroupMessage(ctx context.Context, groupID int64) {
	if r.deps.Memory == nil || groupID == 0 {
		return
	}
	if _, err := r.deps.Memory.Record(ctx, groupID); err != nil {
		r.logger.WarnContext(ctx, "summary bookkeeping failed", "error", err)
	}
}
