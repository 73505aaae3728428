package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/elisa/internal/agent"
	"github.com/haasonsaas/elisa/internal/config"
	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/internal/ratelimit"
	"github.com/haasonsaas/elisa/internal/router"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "chat", "migrate", "config", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPathPrefersFlag(t *testing.T) {
	t.Setenv("ELISA_CONFIG", "/etc/elisa/from-env.yaml")
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Fatalf("resolveConfigPath(flag) = %q", got)
	}
	if got := resolveConfigPath(""); got != "/etc/elisa/from-env.yaml" {
		t.Fatalf("resolveConfigPath(env) = %q", got)
	}
}

type stubProvider struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (p *stubProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: p.reply}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *stubProvider) Name() string       { return "stub" }
func (p *stubProvider) SupportsTools() bool { return true }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestApp(t *testing.T, provider *stubProvider) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Observability.MetricsEnabled = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), cfg, logger, appOptions{provider: provider})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() { a.close(context.Background()) })
	return a
}

func postMessage(t *testing.T, h http.Handler, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) router.Response {
	t.Helper()
	var resp router.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestMessageAPIGreetingSkipsModel(t *testing.T) {
	provider := &stubProvider{reply: "não deveria aparecer"}
	a := newTestApp(t, provider)
	h := a.httpHandler()

	rec := postMessage(t, h, "ana", `{"id":"m1","text":"oi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Route != router.RouteGreeting {
		t.Fatalf("route = %q, want greeting", resp.Route)
	}
	if !strings.Contains(resp.Reply, "ELISA") {
		t.Fatalf("greeting %q does not name the assistant", resp.Reply)
	}
	if provider.callCount() != 0 {
		t.Fatalf("provider called %d times for a greeting", provider.callCount())
	}
}

func TestMessageAPIRunsAgent(t *testing.T) {
	provider := &stubProvider{reply: "Você não tem tarefas abertas."}
	a := newTestApp(t, provider)
	h := a.httpHandler()

	rec := postMessage(t, h, "", `{"id":"m1","user_id":"ana","text":"quais são minhas tarefas?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Route != router.RouteAgent || resp.Reply != "Você não tem tarefas abertas." {
		t.Fatalf("response = %+v", resp)
	}

	// Redelivery of the same id is not processed again.
	rec = postMessage(t, h, "", `{"id":"m1","user_id":"ana","text":"quais são minhas tarefas?"}`)
	if resp := decodeResponse(t, rec); resp.Route != router.RouteDuplicate {
		t.Fatalf("redelivery route = %q", resp.Route)
	}
	if provider.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.callCount())
	}
}

func TestMessageAPIGroupMembership(t *testing.T) {
	a := newTestApp(t, &stubProvider{reply: "ok"})
	h := a.httpHandler()

	g, err := a.service.CreateGroup(context.Background(), "ana", domain.CreateGroupInput{Name: "Casa"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	rec := postMessage(t, h, "bruno", fmt.Sprintf(`{"group_id":%d,"author_name":"Bruno","text":"rs"}`, g.ID))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-member status = %d", rec.Code)
	}

	rec = postMessage(t, h, "ana", fmt.Sprintf(`{"group_id":%d,"author_name":"Ana","text":"rs"}`, g.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("member status = %d body = %s", rec.Code, rec.Body.String())
	}
	if resp := decodeResponse(t, rec); resp.Route != router.RouteIgnored {
		t.Fatalf("route = %q, want ignored", resp.Route)
	}

	history, err := a.service.UseCases().Messages.ListGroupMessages(context.Background(), "ana", g.ID, 10)
	if err != nil {
		t.Fatalf("ListGroupMessages: %v", err)
	}
	if len(history) != 1 || history[0].Text != "rs" {
		t.Fatalf("history = %+v", history)
	}

	rec = postMessage(t, h, "ana", `{"group_id":999,"text":"rs"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown group status = %d", rec.Code)
	}
}

func TestMessageAPIRejectsBadRequests(t *testing.T) {
	a := newTestApp(t, &stubProvider{reply: "ok"})
	h := a.httpHandler()

	if rec := postMessage(t, h, "ana", `{"text":"oi","extra":true}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d", rec.Code)
	}
	if rec := postMessage(t, h, "", `{"text":"oi"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing user status = %d", rec.Code)
	}
	if rec := postMessage(t, h, "ana", `{"text":"   "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank text status = %d", rec.Code)
	}
}

func TestMessageAPIRateLimitsPerUser(t *testing.T) {
	cfg := config.Default()
	cfg.Assistant.RateLimit.Enabled = true
	cfg.Assistant.RateLimit.Burst = 2
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), cfg, logger, appOptions{provider: &stubProvider{reply: "ok"}})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close(context.Background())
	h := a.httpHandler()

	for i := 1; i <= 2; i++ {
		rec := postMessage(t, h, "ana", fmt.Sprintf(`{"id":"m%d","text":"oi"}`, i))
		if rec.Code != http.StatusOK {
			t.Fatalf("message %d status = %d", i, rec.Code)
		}
	}
	if rec := postMessage(t, h, "ana", `{"id":"m3","text":"oi"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third message status = %d, want 429", rec.Code)
	}
	if rec := postMessage(t, h, "bruno", `{"id":"m4","text":"oi"}`); rec.Code != http.StatusOK {
		t.Fatalf("other user status = %d", rec.Code)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	a := newTestApp(t, &stubProvider{reply: "ok"})
	h := a.httpHandler()

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", path, rec.Code)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{router.ErrUserRequired, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", router.ErrTextRequired), http.StatusBadRequest},
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{&ratelimit.LimitedError{Key: "ana", Retry: time.Second}, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestChatSession(t *testing.T) {
	a := newTestApp(t, &stubProvider{reply: "Anotado."})

	lines := []string{"oi", "", "lembre de pagar o aluguel", "/quit", "nunca lido"}
	read := func() (string, error) {
		if len(lines) == 0 {
			return "", io.EOF
		}
		line := lines[0]
		lines = lines[1:]
		return line, nil
	}
	var out bytes.Buffer
	if err := a.chatSession(context.Background(), read, &out, "ana", 0); err != nil {
		t.Fatalf("chatSession: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "ELISA: Anotado.") {
		t.Fatalf("output missing agent reply:\n%s", got)
	}
	if len(lines) != 1 {
		t.Fatalf("session did not stop at /quit, %d lines left", len(lines))
	}
}
