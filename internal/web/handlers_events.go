package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/asheshgoplani/snipdeck/internal/eventbus"
)

const (
	sseHeartbeatInterval = 15 * time.Second
	sseBufferSize        = 64
)

// sseEvent is the data line of one server-sent event.
type sseEvent struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
}

// handleEventStream streams bus events as server-sent events for clients
// that cannot hold a WebSocket. GET /api/events?channels=engine,cache
//
// Without channels every event is sent. Events are dropped, not queued,
// when the client falls behind.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}
	filter := parseChannels(r.URL.Query().Get("channels"))

	events := make(chan eventbus.Event, sseBufferSize)
	unsubscribe := s.eventBus.Subscribe(func(e eventbus.Event) {
		if len(filter) > 0 && !filter[eventbus.EventChannel(e.Type)] {
			return
		}
		select {
		case events <- e:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSEComment(w, flusher, "connected"); err != nil {
		return
	}

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			if err := writeSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		case e := <-events:
			payload := sseEvent{
				Channel: eventbus.EventChannel(e.Type),
				Type:    eventbus.WireEventType(e.Type),
				Data:    e.Data,
			}
			if err := writeSSEEvent(w, flusher, string(e.Type), payload); err != nil {
				s.log.Debug("sse_write_failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func parseChannels(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, ch := range strings.Split(raw, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			out[ch] = true
		}
	}
	return out
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
