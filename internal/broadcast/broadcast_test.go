package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/elisa/internal/observability"
	"github.com/haasonsaas/elisa/pkg/models"
)

func TestEventsForAction(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		action models.AssistantAction
		want   []string
	}{
		{
			name:   "private task",
			action: models.AssistantAction{Type: models.ActionTaskCreated, ID: 7},
			want:   []string{"task.created@task:7"},
		},
		{
			name:   "group task",
			action: models.AssistantAction{Type: models.ActionTaskDeleted, ID: 42, GroupID: 3},
			want:   []string{"task.deleted@task:42", "task.deleted@group:3"},
		},
		{
			name:   "group",
			action: models.AssistantAction{Type: models.ActionGroupLeft, ID: 3},
			want:   []string{"group.member_left@group:3"},
		},
		{
			name:   "group message",
			action: models.AssistantAction{Type: models.ActionGroupMessageSent, ID: 90, GroupID: 3},
			want:   []string{"message.created@group:3"},
		},
		{
			name:   "comment",
			action: models.AssistantAction{Type: models.ActionTodoMessageUpdated, ID: 5, TaskID: 42},
			want:   []string{"comment.updated@task:42"},
		},
		{
			name:   "unknown",
			action: models.AssistantAction{Type: "task_archived", ID: 1},
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := EventsForAction(tt.action, at)
			var got []string
			for _, e := range events {
				if !e.At.Equal(at) {
					t.Errorf("event time = %v", e.At)
				}
				got = append(got, e.Name+"@"+e.Room)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("events = %v, want %v", got, tt.want)
			}
		})
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func TestGatewayPublishesActionsAndCountsFailures(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	pub := &recordingPublisher{}
	gw := NewGateway(pub, WithMetrics(metrics))

	gw.ActionCommitted(context.Background(), 3, models.AssistantAction{Type: models.ActionTaskCreated, ID: 9, GroupID: 3})
	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.events))
	}
	if got := testutil.ToFloat64(metrics.BroadcastCounter.WithLabelValues(EventTaskCreated, "sent")); got != 2 {
		t.Errorf("sent counter = %v, want 2", got)
	}

	pub.err = errors.New("room closed")
	gw.AssistantReplied(context.Background(), AssistantMessage{GroupID: 3, Text: "Pronto!"})
	last := pub.events[len(pub.events)-1]
	if last.Name != EventMessageCreated || last.Room != "group:3" {
		t.Errorf("reply event = %+v", last)
	}
	if msg := last.Payload.(AssistantMessage); msg.Author != "assistant" {
		t.Errorf("author = %q", msg.Author)
	}
	if got := testutil.ToFloat64(metrics.BroadcastCounter.WithLabelValues(EventMessageCreated, "error")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}

	gw.AssistantReplied(context.Background(), AssistantMessage{Text: "private"})
	if len(pub.events) != 3 {
		t.Errorf("private reply should not be broadcast")
	}
}

func dialHub(t *testing.T, server *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return frame
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDeliversToSubscribedRooms(t *testing.T) {
	hub := NewHub(nil, nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server, nil)
	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "id": "s1", "room": "group:3"}); err != nil {
		t.Fatal(err)
	}
	ack := readFrame(t, conn)
	if ack["type"] != FrameReply || ack["ok"] != true {
		t.Fatalf("subscribe ack = %v", ack)
	}
	waitFor(t, func() bool { return hub.Subscribers("group:3") == 1 })

	if err := hub.Publish(context.Background(), Event{Name: EventTaskCreated, Room: "group:4"}); err != nil {
		t.Fatalf("publish to empty room: %v", err)
	}
	if err := hub.Publish(context.Background(), Event{Name: EventTaskCreated, Room: "group:3", Payload: map[string]int{"id": 9}}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	frame := readFrame(t, conn)
	if frame["event"] != EventTaskCreated || frame["room"] != "group:3" {
		t.Errorf("event frame = %v", frame)
	}

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "room": "admin"}); err != nil {
		t.Fatal(err)
	}
	if bad := readFrame(t, conn); bad["ok"] != false {
		t.Errorf("invalid room accepted: %v", bad)
	}

	_ = conn.Close()
	waitFor(t, func() bool { return hub.Clients() == 0 && hub.Subscribers("group:3") == 0 })
}

func TestHubRoutesInboundMessages(t *testing.T) {
	received := make(chan Inbound, 1)
	hub := NewHub(func(_ context.Context, msg Inbound) (any, error) {
		received <- msg
		return map[string]string{"reply": "Oi!"}, nil
	}, nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	header := http.Header{}
	header.Set(UserHeader, "ana")
	conn := dialHub(t, server, header)
	if err := conn.WriteJSON(map[string]any{"type": "message", "id": "m1", "user_id": "mallory", "group_id": 3, "text": "oi"}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame["id"] != "m1" || frame["ok"] != true {
		t.Fatalf("reply frame = %v", frame)
	}
	got := <-received
	if got.UserID != "ana" || got.GroupID != 3 || got.Text != "oi" {
		t.Errorf("inbound = %+v", got)
	}
	if hub.Subscribers(GroupRoom(3)) != 1 {
		t.Error("sender should join the group room")
	}
}

func TestHubRejectsAnonymousMessages(t *testing.T) {
	hub := NewHub(func(context.Context, Inbound) (any, error) { return nil, nil }, nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server, nil)
	if err := conn.WriteJSON(map[string]any{"type": "message", "text": "oi"}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame["ok"] != false || frame["error"] != "user_id is required" {
		t.Errorf("frame = %v", frame)
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
		wantID  string
	}{
		{name: "message", raw: `{"type":"message","id":"m1","group_id":3,"text":"oi"}`, wantID: "m1"},
		{name: "subscribe", raw: `{"type":"subscribe","room":"group:3"}`},
		{name: "malformed", raw: `{"type":`, wantErr: "malformed JSON"},
		{name: "unknown type", raw: `{"type":"shout","id":"x1"}`, wantErr: "/type", wantID: "x1"},
		{name: "unknown field", raw: `{"type":"message","text":"oi","admin":true}`, wantErr: "invalid frame"},
		{name: "empty text", raw: `{"type":"message","id":"m2","text":""}`, wantErr: "/text", wantID: "m2"},
		{name: "missing room", raw: `{"type":"subscribe"}`, wantErr: "room"},
		{name: "string group", raw: `{"type":"message","text":"oi","group_id":"3"}`, wantErr: "/group_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := decodeFrame([]byte(tt.raw))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("decodeFrame() error = %v", err)
				}
			} else if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("decodeFrame() error = %v, want it to mention %q", err, tt.wantErr)
			}
			if frame.ID != tt.wantID {
				t.Errorf("frame id = %q, want %q", frame.ID, tt.wantID)
			}
		})
	}
}

func TestHubRepliesToInvalidFrames(t *testing.T) {
	hub := NewHub(func(context.Context, Inbound) (any, error) {
		t.Error("handler called for an invalid frame")
		return nil, nil
	}, nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	header := http.Header{}
	header.Set(UserHeader, "ana")
	conn := dialHub(t, server, header)
	if err := conn.WriteJSON(map[string]any{"type": "message", "id": "m9", "text": ""}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame["id"] != "m9" || frame["ok"] != false {
		t.Fatalf("frame = %v", frame)
	}
	if msg, _ := frame["error"].(string); !strings.HasPrefix(msg, "invalid frame") {
		t.Errorf("error = %q", msg)
	}
}
