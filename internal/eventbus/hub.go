package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/asheshgoplani/snipdeck/internal/logging"
)

// ClientMessage is a frame sent by a WebSocket client.
type ClientMessage struct {
	Type           string `json:"type"`
	Channel        string `json:"channel,omitempty"`
	ResourceKind   string `json:"resourceKind,omitempty"`
	ResourceID     string `json:"resourceId,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// ServerMessage is a frame sent to a WebSocket client.
type ServerMessage struct {
	Type           string `json:"type"`
	Channel        string `json:"channel,omitempty"`
	EventType      string `json:"eventType,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Data           any    `json:"data,omitempty"`
}

// ParseClientMessage decodes one client frame.
func ParseClientMessage(raw json.RawMessage) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("eventbus: invalid client message: %w", err)
	}
	return &msg, nil
}

// WSConn is the write side of a WebSocket connection. The hub calls it from
// a single goroutine per client.
type WSConn interface {
	WriteJSON(v interface{}) error
}

// Wire-protocol channels.
const (
	ChannelEngine    = "engine"
	ChannelResources = "resources"
	ChannelResource  = "resource" // one resource, selected by resourceId
	ChannelCache     = "cache"
	ChannelRender    = "render"
	ChannelSystem    = "system"
)

var knownChannels = map[string]bool{
	ChannelEngine:    true,
	ChannelResources: true,
	ChannelResource:  true,
	ChannelCache:     true,
	ChannelRender:    true,
	ChannelSystem:    true,
}

// Resource kinds accepted in resourceKind. They match ResourceData.Kind.
const (
	ResourceKindLanguage = "language"
	ResourceKindTheme    = "theme"
)

// DefaultClientQueue is the number of frames buffered per client before
// events are dropped.
const DefaultClientQueue = 64

// ErrClientBacklogged is returned when a reply cannot be queued because the
// client is not draining its queue.
var ErrClientBacklogged = errors.New("eventbus: client send queue full")

// filter selects the events one subscription delivers.
type filter struct {
	channel string
	kind    string // resource channels only; empty matches both kinds
	id      string // ChannelResource only
}

func (f filter) matches(ch string, e Event) bool {
	if f.channel != ChannelResource && f.channel != ChannelResources {
		return f.channel == ch
	}
	if ch != ChannelResources {
		return false
	}
	kind, id := resourceOf(e)
	if f.kind != "" && f.kind != kind {
		return false
	}
	return f.channel == ChannelResources || f.id == id
}

// resourceOf reads the resource identity from a payload, falling back to the
// event channel for emitters that do not send ResourceData.
func resourceOf(e Event) (kind, id string) {
	switch d := e.Data.(type) {
	case ResourceData:
		return d.Kind, d.ID
	case *ResourceData:
		return d.Kind, d.ID
	}
	return "", e.Channel
}

type client struct {
	id     string
	conn   WSConn
	out    chan *ServerMessage
	subs   map[string]filter // subscriptionID -> filter
	closed bool
}

func (c *client) wants(ch string, e Event) bool {
	for _, f := range c.subs {
		if f.matches(ch, e) {
			return true
		}
	}
	return false
}

// Hub fans bus events out to WebSocket clients by subscription. Each client
// has a bounded queue drained by its own writer goroutine, so a slow
// connection never blocks Emit. Events for a full queue are dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	nextID  int
	nextSub int
	queue   int
	dropped atomic.Uint64
	log     *slog.Logger
	unsub   func()
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithClientQueue sets the per-client queue depth.
func WithClientQueue(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queue = n
		}
	}
}

// NewHub subscribes a hub to bus.
func NewHub(bus *EventBus, opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[string]*client),
		queue:   DefaultClientQueue,
		log:     logging.ForComponent(logging.CompWeb),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.unsub = bus.Subscribe(h.broadcast)
	return h
}

// RegisterClient starts a writer for conn and returns the client id.
func (h *Hub) RegisterClient(conn WSConn) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	c := &client{
		id:   fmt.Sprintf("client-%d", h.nextID),
		conn: conn,
		out:  make(chan *ServerMessage, h.queue),
		subs: make(map[string]filter),
	}
	h.clients[c.id] = c
	go h.drain(c)
	return c.id
}

// drain writes queued frames until the queue is closed. Write errors surface
// on the connection's read loop, which unregisters the client.
func (h *Hub) drain(c *client) {
	for msg := range c.out {
		if err := c.conn.WriteJSON(msg); err != nil {
			h.log.Debug("ws_write_failed",
				slog.String("client_id", c.id),
				slog.String("error", err.Error()))
		}
	}
}

// UnregisterClient drops a client and stops its writer once the queue is
// drained. Unknown ids are ignored.
func (h *Hub) UnregisterClient(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *client) {
	c.closed = true
	close(c.out)
	delete(h.clients, c.id)
}

// offer queues msg without blocking. h.mu must be held.
func (h *Hub) offer(c *client, msg *ServerMessage) bool {
	if c.closed {
		return false
	}
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// HandleMessage applies one client frame: subscribe, unsubscribe or ping.
// Replies share the event queue so they keep their order.
func (h *Hub) HandleMessage(clientID string, raw json.RawMessage) error {
	msg, err := ParseClientMessage(raw)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return fmt.Errorf("eventbus: unknown client %q", clientID)
	}

	var reply *ServerMessage
	switch msg.Type {
	case "subscribe":
		f, err := newFilter(msg)
		if err != nil {
			return err
		}
		h.nextSub++
		subID := fmt.Sprintf("sub-%d", h.nextSub)
		c.subs[subID] = f
		reply = &ServerMessage{Type: "subscribed", Channel: msg.Channel, SubscriptionID: subID}
	case "unsubscribe":
		delete(c.subs, msg.SubscriptionID)
		return nil
	case "ping":
		reply = &ServerMessage{Type: "pong"}
	default:
		return fmt.Errorf("eventbus: unknown message type %q", msg.Type)
	}

	if !h.offer(c, reply) {
		return ErrClientBacklogged
	}
	return nil
}

func newFilter(msg *ClientMessage) (filter, error) {
	if !knownChannels[msg.Channel] {
		return filter{}, fmt.Errorf("eventbus: unknown channel %q", msg.Channel)
	}
	f := filter{channel: msg.Channel}
	if msg.Channel != ChannelResource && msg.Channel != ChannelResources {
		return f, nil
	}
	switch msg.ResourceKind {
	case "", ResourceKindLanguage, ResourceKindTheme:
		f.kind = msg.ResourceKind
	default:
		return filter{}, fmt.Errorf("eventbus: unknown resource kind %q", msg.ResourceKind)
	}
	if msg.Channel == ChannelResource {
		if msg.ResourceID == "" {
			return filter{}, fmt.Errorf("eventbus: channel %q requires resourceId", msg.Channel)
		}
		f.id = msg.ResourceID
	}
	return f, nil
}

func (h *Hub) broadcast(e Event) {
	ch := EventChannel(e.Type)
	frame := &ServerMessage{
		Type:      "event",
		Channel:   ch,
		EventType: WireEventType(e.Type),
		Data:      e.Data,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wants(ch, e) || h.offer(c, frame) {
			continue
		}
		h.dropped.Add(1)
		h.log.Debug("ws_event_dropped",
			slog.String("client_id", c.id),
			slog.String("event", string(e.Type)))
	}
}

// EventChannel maps an EventType to the wire-protocol channel name.
func EventChannel(et EventType) string {
	switch et {
	case EventEngineCreated, EventEngineFailed, EventEngineDisposed:
		return ChannelEngine
	case EventResourceLoaded, EventResourceLoadFailed:
		return ChannelResources
	case EventCacheEvicted, EventCacheCleared:
		return ChannelCache
	case EventRenderFallback:
		return ChannelRender
	default:
		return ChannelSystem
	}
}

// WireEventType strips the channel prefix: "resource.load_failed" becomes
// "load-failed".
func WireEventType(et EventType) string {
	s := string(et)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.ReplaceAll(s, "_", "-")
}

// Dropped reports how many events were discarded for full client queues.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ConnectedClientIDs returns the connected client ids in sorted order.
func (h *Hub) ConnectedClientIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.clients))
}

// Close detaches the hub from the bus and stops every writer.
func (h *Hub) Close() {
	h.unsub()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.removeLocked(c)
	}
}
