package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/railgrind/internal/core/events/bus"
	"github.com/zeusync/railgrind/internal/core/observability/log"
	"github.com/zeusync/railgrind/internal/core/rail"
)

const (
	writeWait      = 5 * time.Second
	clientSendSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// MessageState is sent once per grinder when a client connects.
const MessageState = "grinder.state"

// Message is what websocket clients receive for every grinder event and
// track reload.
type Message struct {
	Type    string      `json:"type"`
	State   *rail.State `json:"state,omitempty"`
	Segment string      `json:"segment,omitempty"`
	Track   *TrackInfo  `json:"track,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans grinder events out to websocket clients and remembers the last
// state of every grinder. Bus handlers run on the heartbeat goroutine, so
// they never block on a client: a client whose buffer is full misses messages.
type Hub struct {
	logger log.Log

	mu      sync.Mutex
	clients map[*client]struct{}
	states  map[string]rail.State
	subs    []bus.Subscription
	closed  bool
}

func NewHub(events bus.EventBus, logger log.Log) (*Hub, error) {
	h := &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		states:  make(map[string]rail.State),
	}
	for _, kind := range []string{rail.EventSegmentChanged, rail.EventPositionChanged, rail.EventCompleted, EventTrackReloaded} {
		sub, err := events.Subscribe(kind, h.handle)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.subs = append(h.subs, sub)
	}
	return h, nil
}

func (h *Hub) handle(e bus.Event) error {
	var msg Message
	switch ev := e.(type) {
	case *rail.GrinderEvent:
		state := ev.State
		msg = Message{Type: ev.Kind, State: &state}
		if ev.Segment != nil {
			msg.Segment = ev.Segment.ID
		}
	default:
		info, ok := e.Data().(TrackInfo)
		if !ok {
			return nil
		}
		msg = Message{Type: e.Type(), Track: &info}
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if msg.State != nil {
		h.states[msg.State.GrinderID] = *msg.State
	}
	h.broadcastLocked(b)
	return nil
}

func (h *Hub) broadcastLocked(b []byte) {
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.logger.Debug("websocket client lagging, dropping message", log.String("remote", c.conn.RemoteAddr().String()))
		}
	}
}

// States returns the last known state of every grinder, sorted by id.
func (h *Hub) States() []rail.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]rail.State, 0, len(h.states))
	for _, s := range h.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrinderID < out[j].GrinderID })
	return out
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request, sends the current states, then streams events.
// Text frames from the client are decoded as Commands and passed to onCommand.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, onCommand func(Command) error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendSize)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	for _, s := range h.states {
		b, err := json.Marshal(Message{Type: MessageState, State: &s, Segment: s.SegmentID})
		if err != nil {
			continue
		}
		select {
		case c.send <- b:
		default:
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c, onCommand)
}

func (h *Hub) readPump(c *client, onCommand func(Command) error) {
	defer h.drop(c)
	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				continue
			}
			return
		}
		reply := CommandReply{Action: cmd.Action, Grinder: cmd.Grinder, OK: true}
		if err := onCommand(cmd); err != nil {
			reply.OK = false
			reply.Error = err.Error()
		}
		if b, err := json.Marshal(reply); err == nil {
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				select {
				case c.send <- b:
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for b := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.drop(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Close unsubscribes from the bus and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Cancel()
	}
}
