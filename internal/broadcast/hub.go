package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxFrameBytes = 64 << 10
	sendBuffer    = 64
	pongWait      = 45 * time.Second
	pingPeriod    = 30 * time.Second
	writeWait     = 10 * time.Second

	// UserHeader carries the user id set by the authenticating proxy.
	UserHeader = "X-User-ID"
)

// Frame types.
const (
	FrameMessage     = "message"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameEvent       = "event"
	FrameReply       = "reply"
)

// ErrDropped is returned by Publish when a subscriber's buffer was full.
var ErrDropped = errors.New("broadcast: event dropped for slow subscriber")

// Inbound is a chat message received over a connection.
type Inbound struct {
	ID         string
	UserID     string
	GroupID    int64
	AuthorName string
	Text       string
}

// InboundHandler processes an inbound message and returns the reply payload.
type InboundHandler func(ctx context.Context, msg Inbound) (any, error)

type inboundFrame struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	GroupID    int64  `json:"group_id,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
	Text       string `json:"text,omitempty"`
	Room       string `json:"room,omitempty"`
}

type outboundFrame struct {
	Type    string    `json:"type"`
	ID      string    `json:"id,omitempty"`
	Event   string    `json:"event,omitempty"`
	Room    string    `json:"room,omitempty"`
	OK      *bool     `json:"ok,omitempty"`
	Payload any       `json:"payload,omitempty"`
	Error   string    `json:"error,omitempty"`
	Seq     int64     `json:"seq,omitempty"`
	At      time.Time `json:"at,omitempty"`
}

// Hub keeps websocket clients subscribed to rooms and fans events out to
// them. It implements Publisher.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*client]struct{}
	clients  map[*client]struct{}
	seq      atomic.Int64
	handler  InboundHandler
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a hub. handler may be nil when inbound messages are not
// accepted.
func NewHub(handler InboundHandler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:   make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		logger: logger.With("component", "hub"),
	}
}

// SetHandler replaces the inbound handler.
func (h *Hub) SetHandler(handler InboundHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Publish implements Publisher. Rooms without subscribers are not an error.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.mu.RLock()
	members := make([]*client, 0, len(h.rooms[event.Room]))
	for c := range h.rooms[event.Room] {
		members = append(members, c)
	}
	h.mu.RUnlock()
	if len(members) == 0 {
		return nil
	}

	data, err := json.Marshal(outboundFrame{
		Type:    FrameEvent,
		Event:   event.Name,
		Room:    event.Room,
		Payload: event.Payload,
		Seq:     h.seq.Add(1),
		At:      event.At,
	})
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.Name, err)
	}
	dropped := 0
	for _, c := range members {
		if !c.enqueue(data) {
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %d of %d in %s", ErrDropped, dropped, len(members), event.Room)
	}
	return nil
}

// Subscribers reports how many clients are in room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Clients reports how many connections are open.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.cancel()
		_ = c.conn.Close()
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.NewString(),
		userID: strings.TrimSpace(r.Header.Get(UserHeader)),
		rooms:  make(map[string]struct{}),
	}
	h.register(c)
	c.run()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
}

func (h *Hub) join(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[room]
	if members == nil {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
	delete(c.rooms, room)
}

func (h *Hub) leaveLocked(c *client, room string) {
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) inboundHandler() InboundHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handler
}

// validRoom accepts only group and task rooms.
func validRoom(room string) bool {
	return strings.HasPrefix(room, "group:") || strings.HasPrefix(room, "task:")
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	id     string
	userID string
	// rooms is guarded by hub.mu.
	rooms map[string]struct{}
}

func (c *client) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *client) close() {
	c.cancel()
	c.hub.unregister(c)
	c.closed.Store(true)
	_ = c.conn.Close()
}

func (c *client) enqueue(data []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		frame, err := decodeFrame(data)
		if err != nil {
			c.reply(frame.ID, nil, err)
			continue
		}
		c.handle(frame)
	}
}

func (c *client) handle(frame inboundFrame) {
	switch frame.Type {
	case FrameSubscribe, FrameUnsubscribe:
		if !validRoom(frame.Room) {
			c.reply(frame.ID, nil, fmt.Errorf("invalid room %q", frame.Room))
			return
		}
		if frame.Type == FrameSubscribe {
			c.hub.join(c, frame.Room)
		} else {
			c.hub.leave(c, frame.Room)
		}
		c.reply(frame.ID, map[string]string{"room": frame.Room}, nil)

	case FrameMessage:
		handler := c.hub.inboundHandler()
		if handler == nil {
			c.reply(frame.ID, nil, errors.New("inbound messages are not accepted"))
			return
		}
		userID := c.userID
		if userID == "" {
			userID = strings.TrimSpace(frame.UserID)
		}
		if userID == "" {
			c.reply(frame.ID, nil, errors.New("user_id is required"))
			return
		}
		if frame.GroupID > 0 {
			c.hub.join(c, GroupRoom(frame.GroupID))
		}
		id := frame.ID
		if id == "" {
			id = uuid.NewString()
		}
		payload, err := handler(c.ctx, Inbound{
			ID:         id,
			UserID:     userID,
			GroupID:    frame.GroupID,
			AuthorName: frame.AuthorName,
			Text:       frame.Text,
		})
		if err != nil {
			c.hub.logger.WarnContext(c.ctx, "inbound message failed", "client_id", c.id, "error", err)
		}
		c.reply(id, payload, err)

	default:
		c.reply(frame.ID, nil, fmt.Errorf("unknown frame type %q", frame.Type))
	}
}

func (c *client) reply(id string, payload any, err error) {
	ok := err == nil
	frame := outboundFrame{Type: FrameReply, ID: id, OK: &ok, Payload: payload}
	if err != nil {
		frame.Error = err.Error()
	}
	data, marshalErr := json.Marshal(frame)
	if marshalErr != nil {
		return
	}
	c.enqueue(data)
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
