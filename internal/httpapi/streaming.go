package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalworks/propensity/internal/streaming"
)

const (
	sseHeartbeatInterval = 15 * time.Second
	streamBuffer         = 64
)

// terminalEvent reports whether the event type ends a run's stream.
func terminalEvent(eventType string) bool {
	switch eventType {
	case streaming.EventRunCompleted, streaming.EventRunTimedOut, streaming.EventRunFailed:
		return true
	}
	return false
}

// parseTypeFilter builds the optional type allowlist from ?types=a,b,c.
// Terminal events always pass so the stream can close properly.
func parseTypeFilter(raw string) map[string]struct{} {
	if raw == "" {
		return nil
	}
	filter := make(map[string]struct{})
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = struct{}{}
		}
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}

func allowed(filter map[string]struct{}, eventType string) bool {
	if filter == nil || terminalEvent(eventType) {
		return true
	}
	_, ok := filter[eventType]
	return ok
}

// handleSSE streams a run's progress events as server-sent events. After
// the terminal event it emits one data frame with the final result JSON
// and a [DONE] sentinel, then closes.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		s.writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	if _, ok := s.runner.Get(runID); !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	filter := parseTypeFilter(r.URL.Query().Get("types"))

	// Resume point: Last-Event-ID header, or ?last_event_id for clients
	// that reconnect manually.
	var since uint64
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		since, _ = strconv.ParseUint(id, 10, 64)
	} else if id := r.URL.Query().Get("last_event_id"); id != "" {
		since, _ = strconv.ParseUint(id, 10, 64)
	}

	// Subscribe before replaying so no event falls between the two.
	ch := s.streams.Subscribe(runID, streamBuffer)
	defer s.streams.Unsubscribe(runID, ch)

	seen := since
	for _, evt := range s.streams.ReplaySince(runID, since) {
		if s.writeSSEEvent(w, flusher, filter, evt) {
			s.finishSSE(w, flusher, runID)
			return
		}
		seen = evt.Seq
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			if evt.Seq <= seen {
				continue
			}
			seen = evt.Seq
			if s.writeSSEEvent(w, flusher, filter, evt) {
				s.finishSSE(w, flusher, runID)
				return
			}
		}
	}
}

// writeSSEEvent emits one event frame, returning true when the event was
// terminal and the stream should finish.
func (s *Server) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, filter map[string]struct{}, evt streaming.Event) bool {
	if allowed(filter, evt.Type) {
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, evt.Marshal())
		flusher.Flush()
	}
	return terminalEvent(evt.Type)
}

// finishSSE sends the final result frame and the end-of-stream sentinel.
func (s *Server) finishSSE(w http.ResponseWriter, flusher http.Flusher, runID string) {
	run, ok := s.runner.Get(runID)
	if !ok {
		s.logger.Warn("run vanished before final frame", zap.String("run_id", runID))
	} else {
		fmt.Fprintf(w, "data: %s\n\n", mustJSON(run.Result))
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
