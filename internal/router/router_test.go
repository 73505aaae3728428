package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/elisa/internal/agent"
	"github.com/haasonsaas/elisa/internal/broadcast"
	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/internal/memory"
	"github.com/haasonsaas/elisa/internal/state"
	"github.com/haasonsaas/elisa/internal/threads"
	"github.com/haasonsaas/elisa/internal/tools"
	"github.com/haasonsaas/elisa/pkg/models"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type step struct {
	text  string
	calls []models.ToolCall
	err   error
}

// scriptedProvider replays steps in order and repeats the last one.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []step
	requests []*agent.CompletionRequest
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) Complete(_ context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var s step
	if len(p.steps) > 0 {
		s = p.steps[min(len(p.requests)-1, len(p.steps)-1)]
	}
	p.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *agent.CompletionChunk, len(s.calls)+2)
	if s.text != "" {
		ch <- &agent.CompletionChunk{Text: s.text}
	}
	for i := range s.calls {
		call := s.calls[i]
		ch <- &agent.CompletionChunk{ToolCall: &call}
	}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) script(steps ...step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = steps
	p.requests = nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) firstRequest() *agent.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[0]
}

func (p *scriptedProvider) lastRequest() *agent.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e broadcast.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Name+"@"+e.Room)
	}
	return out
}

type fixture struct {
	clock     *clock
	svc       *domain.MemoryService
	slots     *state.Slots
	provider  *scriptedProvider
	threads   *threads.MemoryStore
	publisher *recordingPublisher
	router    *Router
	groupID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	svc := domain.NewMemoryService()
	pub := &recordingPublisher{}
	gateway := broadcast.NewGateway(pub, broadcast.WithClock(clk.Now))

	reg := tools.NewRegistry(tools.WithActionSink(gateway))
	if err := tools.RegisterDefaults(reg, svc.UseCases()); err != nil {
		t.Fatalf("RegisterDefaults() error = %v", err)
	}
	slots := state.NewSlots(state.NewMemoryStore(state.WithMemoryClock(clk.Now)), state.SlotConfig{}, clk.Now)
	provider := &scriptedProvider{}
	loop := agent.NewLoop(provider, reg, slots, agent.LoopConfig{},
		agent.WithClock(clk.Now),
		agent.WithErrorIDs(func() string { return "err-1" }),
	)
	threadStore := threads.NewMemoryStore(0)
	uc := svc.UseCases()
	mem := memory.NewManager(memory.NewMemoryStore(), nil, GroupHistory(uc.History), memory.Config{SummaryEvery: 3}, memory.WithClock(clk.Now))

	r, err := New(Deps{
		Agent:     loop,
		Slots:     slots,
		Threads:   threadStore,
		Memory:    mem,
		UseCases:  uc,
		Announcer: gateway,
	}, Config{}, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	group, err := svc.CreateGroup(context.Background(), "ana", domain.CreateGroupInput{Name: "Jurídico", Members: []string{"bruno"}})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	return &fixture{
		clock:     clk,
		svc:       svc,
		slots:     slots,
		provider:  provider,
		threads:   threadStore,
		publisher: pub,
		router:    r,
		groupID:   group.ID,
	}
}

func (f *fixture) groupMessage(id, userID, text string) Message {
	return Message{ID: id, UserID: userID, GroupID: f.groupID, AuthorName: strings.ToUpper(userID[:1]) + userID[1:], Text: text}
}

func (f *fixture) pendingDelete(t *testing.T, userID string, taskID int64) {
	t.Helper()
	args, _ := json.Marshal(map[string]int64{"id": taskID})
	_, err := f.slots.RequestConfirmation(context.Background(), f.groupID, userID, state.PendingConfirmation{
		ToolName: "deleteTodo",
		ToolArgs: args,
		Prompt:   "excluir a tarefa #" + jsonInt(taskID),
	})
	if err != nil {
		t.Fatalf("RequestConfirmation() error = %v", err)
	}
}

func (f *fixture) groupTask(t *testing.T, title string) int64 {
	t.Helper()
	task, err := f.svc.CreateTask(context.Background(), "ana", domain.CreateTaskInput{Title: title, GroupID: f.groupID})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	return task.ID
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestConfirmationWithinTTLDeletesTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	taskID := f.groupTask(t, "Revisar contrato")
	f.pendingDelete(t, "ana", taskID)

	f.clock.Advance(30 * time.Second)
	resp, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "ana", "sim"))
	if err != nil {
		t.Fatalf("HandleGroupMessage() error = %v", err)
	}
	if resp.Route != RouteConfirmed {
		t.Fatalf("route = %s, want %s", resp.Route, RouteConfirmed)
	}
	if len(resp.Actions) != 1 || resp.Actions[0].Type != models.ActionTaskDeleted || resp.Actions[0].ID != taskID {
		t.Fatalf("actions = %+v", resp.Actions)
	}
	if f.provider.calls() != 0 {
		t.Errorf("model called %d times for a confirmation", f.provider.calls())
	}
	if _, err := f.svc.GetTask(ctx, "ana", taskID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("task still present: %v", err)
	}
	if pc, _ := f.slots.Confirmation(ctx, f.groupID, "ana"); pc != nil {
		t.Error("confirmation slot not cleared")
	}
	events := strings.Join(f.publisher.names(), ",")
	if !strings.Contains(events, "task.deleted@task:") || !strings.Contains(events, "message.created@group:") {
		t.Errorf("events = %s", events)
	}
}

func TestExpiredConfirmationIsOrdinaryInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	taskID := f.groupTask(t, "Revisar contrato")
	f.pendingDelete(t, "ana", taskID)

	f.clock.Advance(6 * time.Minute)
	resp, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "ana", "sim"))
	if err != nil {
		t.Fatalf("HandleGroupMessage() error = %v", err)
	}
	if resp.Route != RouteIgnored || len(resp.Actions) != 0 {
		t.Fatalf("response = %+v", resp)
	}
	if _, err := f.svc.GetTask(ctx, "ana", taskID); err != nil {
		t.Errorf("task was deleted after expiry: %v", err)
	}
	if f.provider.calls() != 0 {
		t.Errorf("model called for an unaddressed message")
	}
}

func TestConfirmationBelongsToItsUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	taskID := f.groupTask(t, "Revisar contrato")
	f.pendingDelete(t, "ana", taskID)

	resp, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "bruno", "sim"))
	if err != nil {
		t.Fatalf("HandleGroupMessage() error = %v", err)
	}
	if resp.Route == RouteConfirmed {
		t.Fatal("another user's reply consumed the confirmation")
	}
	if pc, _ := f.slots.Confirmation(ctx, f.groupID, "ana"); pc == nil {
		t.Error("confirmation of ana was cleared by bruno")
	}
	if _, err := f.svc.GetTask(ctx, "ana", taskID); err != nil {
		t.Errorf("task deleted: %v", err)
	}
}

func TestConfirmationRejectedAndUnrelatedReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	taskID := f.groupTask(t, "Revisar contrato")
	f.pendingDelete(t, "ana", taskID)

	resp, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "ana", "o cliente ligou de novo"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteIgnored {
		t.Fatalf("unrelated message route = %s", resp.Route)
	}
	if pc, _ := f.slots.Confirmation(ctx, f.groupID, "ana"); pc == nil {
		t.Fatal("unrelated message cleared the slot")
	}

	resp, err = f.router.HandleGroupMessage(ctx, f.groupMessage("m2", "ana", "Não, cancela!"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteCancelled || resp.Reply != cancelledReply {
		t.Fatalf("response = %+v", resp)
	}
	if pc, _ := f.slots.Confirmation(ctx, f.groupID, "ana"); pc != nil {
		t.Error("slot not cleared after rejection")
	}
	if _, err := f.svc.GetTask(ctx, "ana", taskID); err != nil {
		t.Errorf("task deleted after rejection: %v", err)
	}
}

func TestRedeliveredConfirmationRunsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	taskID := f.groupTask(t, "Revisar contrato")
	f.pendingDelete(t, "ana", taskID)

	first, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "ana", "sim"))
	if err != nil || first.Route != RouteConfirmed {
		t.Fatalf("first delivery = %+v, %v", first, err)
	}
	second, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "ana", "sim"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Route != RouteDuplicate || len(second.Actions) != 0 {
		t.Errorf("redelivery = %+v", second)
	}
}

func TestMentionCreatesTaskWithoutConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.script(
		step{calls: []models.ToolCall{{ID: "c1", Name: "createTodo", Args: json.RawMessage(`{"title":"Revisar contrato"}`)}}},
		step{text: "Pronto, criei a tarefa Revisar contrato."},
	)

	resp, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "ana", "Elisa, cria uma tarefa chamada Revisar contrato"))
	if err != nil {
		t.Fatalf("HandleGroupMessage() error = %v", err)
	}
	if resp.Route != RouteMention {
		t.Fatalf("route = %s", resp.Route)
	}
	if len(resp.Actions) != 1 || resp.Actions[0].Type != models.ActionTaskCreated || resp.Actions[0].ID <= 0 {
		t.Fatalf("actions = %+v", resp.Actions)
	}
	if resp.Actions[0].GroupID != f.groupID {
		t.Errorf("task group = %d, want %d", resp.Actions[0].GroupID, f.groupID)
	}
	if pc, _ := f.slots.Confirmation(ctx, f.groupID, "ana"); pc != nil {
		t.Error("non-sensitive tool asked for confirmation")
	}
	req := f.provider.lastRequest()
	if req == nil || !strings.Contains(req.Messages[0].Content, "Ana: Elisa, cria") {
		t.Errorf("group context = %+v", req)
	}
}

func TestMentionPreemptsPendingConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	taskID := f.groupTask(t, "Revisar contrato")
	f.pendingDelete(t, "ana", taskID)
	f.provider.script(step{text: "Você tem 1 tarefa."})

	resp, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "ana", "Elisa, sim, e quais tarefas eu tenho?"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteMention || f.provider.calls() != 1 {
		t.Fatalf("route = %s, model calls = %d", resp.Route, f.provider.calls())
	}
	if _, err := f.svc.GetTask(ctx, "ana", taskID); err != nil {
		t.Errorf("mention executed the pending deletion: %v", err)
	}
}

func TestGreetingNeverReachesModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.router.ProcessMessage(ctx, "ana", "Oi, tudo bem?", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteGreeting || !strings.Contains(resp.Reply, "ELISA") {
		t.Fatalf("private greeting = %+v", resp)
	}
	resp, err = f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "bruno", "Bom dia, Elisa!"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteGreeting {
		t.Fatalf("group greeting route = %s", resp.Route)
	}
	if f.provider.calls() != 0 {
		t.Errorf("model called %d times for greetings", f.provider.calls())
	}
}

func TestGreetingDoesNotResumeFollowUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.script(
		step{calls: []models.ToolCall{{ID: "c1", Name: "createTodo", Args: json.RawMessage(`{"title":"oi"}`)}}},
		step{text: "Pronto."},
	)
	question := state.FollowUpContext{Kind: state.FollowUpQuestion, Prompt: "Qual título devo usar?", UserText: "cria uma tarefa"}
	if err := f.slots.SetFollowUp(ctx, f.groupID, "ana", question); err != nil {
		t.Fatal(err)
	}
	if err := f.slots.SetFollowUp(ctx, 0, "ana", question); err != nil {
		t.Fatal(err)
	}

	resp, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "ana", "Oi"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteIgnored || len(resp.Actions) != 0 {
		t.Errorf("group greeting with pending follow-up = %+v", resp)
	}
	resp, claimed, err := f.router.HandleFollowUpReply(ctx, f.groupMessage("m2", "ana", "Bom dia!"))
	if err != nil || claimed || resp.Route != RouteIgnored {
		t.Errorf("HandleFollowUpReply(greeting) = %+v, %v, %v", resp, claimed, err)
	}
	resp, err = f.router.ProcessMessage(ctx, "ana", "Olá", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteGreeting || len(resp.Actions) != 0 {
		t.Errorf("private greeting with pending follow-up = %+v", resp)
	}

	if f.provider.calls() != 0 {
		t.Errorf("model called %d times for greetings", f.provider.calls())
	}
	if fu, _ := f.slots.FollowUp(ctx, f.groupID, "ana"); fu == nil {
		t.Error("group follow-up dropped by a greeting")
	}
	if fu, _ := f.slots.FollowUp(ctx, 0, "ana"); fu == nil {
		t.Error("private follow-up dropped by a greeting")
	}
}

func TestUnaddressedGroupGreetingIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "bruno", "Bom dia!"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteIgnored || resp.Reply != "" {
		t.Errorf("unaddressed greeting = %+v", resp)
	}
	if f.provider.calls() != 0 {
		t.Errorf("model called %d times", f.provider.calls())
	}
}

func TestProcessMessageKeepsPrivateThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.script(step{text: "Você não tem tarefas abertas."})

	if _, err := f.router.ProcessMessage(ctx, "ana", "quais são minhas tarefas?", Options{MessageID: "p1"}); err != nil {
		t.Fatal(err)
	}
	thread, _ := f.threads.Recent(ctx, "ana", 10)
	if len(thread) != 2 || thread[0].Role != models.RoleUser || thread[1].Role != models.RoleAssistant {
		t.Fatalf("thread = %+v", thread)
	}

	f.provider.script(step{text: "Ok."})
	if _, err := f.router.ProcessMessage(ctx, "ana", "e agora?", Options{MessageID: "p2"}); err != nil {
		t.Fatal(err)
	}
	if got := len(f.provider.lastRequest().Messages); got != 3 {
		t.Errorf("model saw %d messages, want history plus incoming", got)
	}

	if _, err := f.router.ProcessMessage(ctx, "ana", "e depois?", Options{MessageID: "p3", SkipThreadHistory: true}); err != nil {
		t.Fatal(err)
	}
	if got := len(f.provider.lastRequest().Messages); got != 1 {
		t.Errorf("skipped history still sent %d messages", got)
	}
	thread, _ = f.threads.Recent(ctx, "ana", 10)
	if len(thread) != 4 {
		t.Errorf("thread has %d messages, want 4", len(thread))
	}
}

func TestDisambiguationFollowUpResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, _ := f.svc.CreateTask(ctx, "ana", domain.CreateTaskInput{Title: "Relatório"})
	second, _ := f.svc.CreateTask(ctx, "ana", domain.CreateTaskInput{Title: "Relatório", GroupID: f.groupID})
	f.provider.script(step{calls: []models.ToolCall{{ID: "c1", Name: "completeTodo", Args: json.RawMessage(`{"title":"Relatório"}`)}}})

	resp, err := f.router.ProcessMessage(ctx, "ana", "conclui o relatório", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Outcome != string(agent.OutcomeDisambiguation) || !strings.Contains(resp.Reply, "1.") {
		t.Fatalf("response = %+v", resp)
	}

	fu, _ := f.slots.FollowUp(ctx, 0, "ana")
	if fu == nil || len(fu.Context.Candidates) != 2 || fu.Context.Candidates[1].ID != second.ID {
		t.Fatalf("disambiguation slot = %+v", fu)
	}

	f.provider.script(
		step{calls: []models.ToolCall{{ID: "c2", Name: "completeTodo", Args: json.RawMessage(`{"id":` + jsonInt(second.ID) + `}`)}}},
		step{text: "Concluí o relatório do grupo."},
	)
	resp, err = f.router.ProcessMessage(ctx, "ana", "2", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteFollowUp || len(resp.Actions) != 1 || resp.Actions[0].ID != second.ID {
		t.Fatalf("resumed response = %+v", resp)
	}
	if !strings.Contains(f.provider.firstRequest().System, "O usuário escolheu o id "+jsonInt(second.ID)) {
		t.Errorf("resume note missing from system prompt")
	}
	if fu, _ := f.slots.FollowUp(ctx, 0, "ana"); fu != nil {
		t.Error("follow-up not cleared after the final answer")
	}
	if task, err := f.svc.GetTask(ctx, "ana", first.ID); err != nil || task.Done {
		t.Error("wrong task completed")
	}
}

func TestModelFailureKeepsFollowUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.slots.SetFollowUp(ctx, 0, "ana", state.FollowUpContext{Kind: state.FollowUpQuestion, Prompt: "Qual o título?"})
	if err != nil {
		t.Fatal(err)
	}
	f.provider.script(step{err: errors.New("upstream unavailable")})

	resp, err := f.router.ProcessMessage(ctx, "ana", "Revisar contrato", Options{})
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if resp.ErrorID != "err-1" || !strings.Contains(resp.Reply, "err-1") {
		t.Fatalf("response = %+v", resp)
	}
	if fu, _ := f.slots.FollowUp(ctx, 0, "ana"); fu == nil {
		t.Error("failed exchange cleared the follow-up")
	}
}

func TestProactiveSuggestionCooldownAndAcceptance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "bruno", "Precisamos revisar o contrato amanhã."))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteProactive || !strings.Contains(resp.Reply, `"Revisar o contrato amanhã"`) {
		t.Fatalf("suggestion = %+v", resp)
	}

	resp, err = f.router.HandleGroupMessage(ctx, f.groupMessage("m2", "bruno", "Temos que ligar para o cliente hoje"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteIgnored {
		t.Fatalf("second suggestion within cooldown: %+v", resp)
	}

	f.provider.script(
		step{calls: []models.ToolCall{{ID: "c1", Name: "createTodo", Args: json.RawMessage(`{"title":"Revisar o contrato amanhã"}`)}}},
		step{text: "Criei a tarefa."},
	)
	resp, err = f.router.HandleGroupMessage(ctx, f.groupMessage("m3", "bruno", "sim"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteFollowUp || len(resp.Actions) != 1 || resp.Actions[0].Type != models.ActionTaskCreated {
		t.Fatalf("accepted suggestion = %+v", resp)
	}
	if !strings.Contains(f.provider.firstRequest().System, "Revisar o contrato amanhã") {
		t.Error("suggested title missing from resume note")
	}

	f.clock.Advance(31 * time.Minute)
	resp, err = f.router.HandleGroupMessage(ctx, f.groupMessage("m4", "bruno", "Temos que ligar para o cliente hoje"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteProactive {
		t.Errorf("suggestion after cooldown route = %s", resp.Route)
	}
}

func TestProactiveSuggestionDeclined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m1", "bruno", "Precisamos revisar o contrato amanhã")); err != nil {
		t.Fatal(err)
	}
	resp, err := f.router.HandleGroupMessage(ctx, f.groupMessage("m2", "bruno", "não precisa"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route != RouteFollowUp || resp.Reply != suggestionDeclinedText {
		t.Fatalf("response = %+v", resp)
	}
	if f.provider.calls() != 0 {
		t.Error("declining a suggestion reached the model")
	}
	if fu, _ := f.slots.FollowUp(ctx, f.groupID, "bruno"); fu != nil {
		t.Error("follow-up left after decline")
	}
}

func TestGroupQuestionBecomesFollowUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.script(step{text: "Qual título devo usar?"})

	if _, err := f.router.HandleMention(ctx, f.groupMessage("m1", "ana", "Elisa, cria uma tarefa")); err != nil {
		t.Fatal(err)
	}
	fu, _ := f.slots.FollowUp(ctx, f.groupID, "ana")
	if fu == nil || fu.Context.Kind != state.FollowUpQuestion {
		t.Fatalf("follow-up = %+v", fu)
	}

	f.provider.script(
		step{calls: []models.ToolCall{{ID: "c1", Name: "createTodo", Args: json.RawMessage(`{"title":"Revisar contrato"}`)}}},
		step{text: "Pronto."},
	)
	resp, claimed, err := f.router.HandleFollowUpReply(ctx, f.groupMessage("m2", "ana", "Revisar contrato"))
	if err != nil || !claimed {
		t.Fatalf("HandleFollowUpReply() = %+v, %v, %v", resp, claimed, err)
	}
	if len(resp.Actions) != 1 {
		t.Errorf("actions = %+v", resp.Actions)
	}
	if fu, _ := f.slots.FollowUp(ctx, f.groupID, "ana"); fu != nil {
		t.Error("follow-up not cleared")
	}
}

func TestHandleConfirmationReplyReportsClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, claimed, err := f.router.HandleConfirmationReply(ctx, f.groupMessage("m1", "ana", "sim"))
	if err != nil || claimed {
		t.Fatalf("claimed without a pending confirmation: %v %v", claimed, err)
	}

	f.pendingDelete(t, "ana", f.groupTask(t, "Revisar contrato"))
	resp, claimed, err := f.router.HandleConfirmationReply(ctx, f.groupMessage("m2", "ana", "pode sim"))
	if err != nil || !claimed || resp.Route != RouteConfirmed {
		t.Fatalf("HandleConfirmationReply() = %+v, %v, %v", resp, claimed, err)
	}
}

func TestSummaryMaintenanceFeedsGroupContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, text := range []string{"O contrato vence sexta", "Vou revisar o contrato", "Combinado"} {
		if _, err := f.svc.SendGroupMessage(ctx, "bruno", f.groupID, text); err != nil {
			t.Fatal(err)
		}
		if _, err := f.router.HandleGroupMessage(ctx, f.groupMessage("s"+jsonInt(int64(i)), "bruno", text)); err != nil {
			t.Fatal(err)
		}
	}
	f.provider.script(step{text: "O contrato vence sexta."})
	if _, err := f.router.HandleMention(ctx, f.groupMessage("m1", "ana", "Elisa, quando vence o contrato?")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.provider.lastRequest().System, "Resumo das conversas anteriores") {
		t.Errorf("summary not folded into the system prompt")
	}

	if _, err := f.router.MaintainSummary(ctx, f.groupID); err != nil {
		t.Errorf("MaintainSummary() error = %v", err)
	}
}

func TestRouterValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.router.ProcessMessage(ctx, "", "oi", Options{}); !errors.Is(err, ErrUserRequired) {
		t.Errorf("empty user error = %v", err)
	}
	if _, err := f.router.ProcessMessage(ctx, "ana", "  ", Options{}); !errors.Is(err, ErrTextRequired) {
		t.Errorf("empty text error = %v", err)
	}
	if _, err := f.router.HandleGroupMessage(ctx, Message{UserID: "ana", Text: "oi"}); !errors.Is(err, ErrGroupRequired) {
		t.Errorf("missing group error = %v", err)
	}
	if _, err := New(Deps{}, Config{}); err == nil {
		t.Error("New() without agent should fail")
	}
}

func TestSetPhrasesSwapsMatcher(t *testing.T) {
	f := newFixture(t)
	f.router.SetPhrases(Phrases{Greetings: []string{"fala"}})
	if !f.router.phrases().IsGreeting("Fala!") {
		t.Error("custom greeting not applied")
	}
	if f.router.phrases().IsGreeting("oi") {
		t.Error("default greetings should be replaced")
	}
	if f.router.phrases().Classify("sim") != AnswerYes {
		t.Error("empty lists should keep defaults")
	}
}
