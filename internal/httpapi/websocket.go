package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/signalworks/propensity/internal/streaming"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement happens at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWS mirrors the SSE feed over a WebSocket: buffered events first,
// then live events, then the final result frame and a [DONE] text message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		s.writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	if _, ok := s.runner.Get(runID); !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	filter := parseTypeFilter(r.URL.Query().Get("types"))

	// Reader pump: we never expect client messages, but reading keeps
	// pong handling alive and notices closed connections.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch := s.streams.Subscribe(runID, streamBuffer)
	defer s.streams.Unsubscribe(runID, ch)

	var seen uint64
	for _, evt := range s.streams.ReplaySince(runID, 0) {
		if s.writeWSEvent(conn, filter, evt) {
			s.finishWS(conn, runID)
			return
		}
		seen = evt.Seq
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, open := <-ch:
			if !open {
				return
			}
			if evt.Seq <= seen {
				continue
			}
			seen = evt.Seq
			if s.writeWSEvent(conn, filter, evt) {
				s.finishWS(conn, runID)
				return
			}
		}
	}
}

func (s *Server) writeWSEvent(conn *websocket.Conn, filter map[string]struct{}, evt streaming.Event) bool {
	if allowed(filter, evt.Type) {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, evt.Marshal()); err != nil {
			return true
		}
	}
	return terminalEvent(evt.Type)
}

func (s *Server) finishWS(conn *websocket.Conn, runID string) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if run, ok := s.runner.Get(runID); ok {
		if err := conn.WriteMessage(websocket.TextMessage, mustJSON(run.Result)); err != nil {
			return
		}
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	conn.WriteMessage(websocket.TextMessage, []byte("[DONE]"))
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
