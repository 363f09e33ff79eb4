package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/snipdeck/internal/eventbus"
)

const (
	wsHeartbeatInterval = 30 * time.Second
	wsWriteTimeout      = 10 * time.Second
)

// lockedConn serializes writes. The hub writes from its per-client goroutine
// while the handler writes heartbeats and error replies.
type lockedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *lockedConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// handleEventBusWS upgrades to a WebSocket and registers the client with the
// hub for channel-based event routing.
func (s *Server) handleEventBusWS(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}

	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	conn := &lockedConn{conn: ws}

	clientID := s.eventHub.RegisterClient(conn)
	s.log.Info("eventbus_client_connected", slog.String("client_id", clientID))
	defer func() {
		s.eventHub.UnregisterClient(clientID)
		s.log.Info("eventbus_client_disconnected", slog.String("client_id", clientID))
	}()

	_ = conn.WriteJSON(eventbus.ServerMessage{Type: "connected"})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsHeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.baseCtx.Done():
				// Unblocks the read loop below.
				_ = ws.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteJSON(eventbus.ServerMessage{Type: "heartbeat"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.log.Warn("eventbus_ws_closed_unexpectedly",
					slog.String("client_id", clientID),
					slog.String("error", err.Error()))
			}
			return
		}

		if err := s.eventHub.HandleMessage(clientID, json.RawMessage(payload)); err != nil {
			s.log.Debug("eventbus_message_error",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()))
			_ = conn.WriteJSON(eventbus.ServerMessage{
				Type: "error",
				Data: err.Error(),
			})
		}
	}
}
