// Package eventbus provides an in-memory publish/subscribe event bus
// with panic isolation and concurrent-safe access.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/asheshgoplani/snipdeck/internal/logging"
)

// EventType identifies the kind of event being emitted.
type EventType string

const (
	EventEngineCreated      EventType = "engine.created"
	EventEngineFailed       EventType = "engine.failed"
	EventEngineDisposed     EventType = "engine.disposed"
	EventResourceLoaded     EventType = "resource.loaded"
	EventResourceLoadFailed EventType = "resource.load_failed"
	EventCacheEvicted       EventType = "cache.evicted"
	EventCacheCleared       EventType = "cache.cleared"
	EventRenderFallback     EventType = "render.fallback"
	EventHeartbeat          EventType = "heartbeat"
)

// Event is a single message emitted on the bus. Channel carries the
// resource id for resource events so clients can follow one resource.
type Event struct {
	Type    EventType
	Channel string
	Data    any
}

// EngineData is the payload of engine events.
type EngineData struct {
	Generation uint64 `json:"generation"`
	Error      string `json:"error,omitempty"`
}

// ResourceData is the payload of resource events.
type ResourceData struct {
	Kind       string `json:"kind"`
	ID         string `json:"id"`
	Generation uint64 `json:"generation"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// CacheData is the payload of cache events.
type CacheData struct {
	Count int `json:"count"`
}

// FallbackData is the payload of render.fallback.
type FallbackData struct {
	Reason   string `json:"reason"`
	Language string `json:"language,omitempty"`
	Theme    string `json:"theme,omitempty"`
}

// Handler is a callback invoked when an event is emitted.
type Handler func(Event)

// EventBus is a concurrent-safe, in-memory publish/subscribe dispatcher.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]Handler
	nextID      int
	log         *slog.Logger
}

// New creates a ready-to-use EventBus.
func New() *EventBus {
	return &EventBus{
		subscribers: make(map[int]Handler),
		log:         logging.ForComponent(logging.CompWeb),
	}
}

// Subscribe registers a handler that will be called for every emitted event.
// It returns an unsubscribe function that removes the handler.
func (b *EventBus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Emit dispatches an event to all current subscribers. Each handler is called
// synchronously in an arbitrary order. A panicking handler is recovered so
// that remaining handlers still execute. Emit on a nil bus is a no-op.
func (b *EventBus) Emit(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	snapshot := make([]Handler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		b.dispatch(h, event)
	}
}

func (b *EventBus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus_handler_panic",
				slog.String("event", string(event.Type)),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	h(event)
}

// SubscriberCount returns the number of active subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
