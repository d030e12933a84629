// Package streaming provides in-memory pub/sub for analysis run events,
// with per-run replay buffers and an optional Redis Streams mirror.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/signalworks/propensity/internal/metrics"
)

// Event types emitted over a run's stream.
const (
	EventRunStarted        = "run_started"
	EventRunCompleted      = "run_completed"
	EventRunTimedOut       = "run_timed_out"
	EventRunFailed         = "run_failed"
	EventAnalysisStarted   = "analysis_started"
	EventAnalysisCompleted = "analysis_completed"
	EventAnalysesJoined    = "analyses_joined"
	EventScoreAssigned     = "score_assigned"
	EventReportGenerated   = "report_generated"
)

// Event is one progress notification for a run.
type Event struct {
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Kind      string    `json:"kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal returns the event as JSON for SSE frames and stream entries.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

const defaultCapacity = 256

// Manager fans events out to per-run subscribers and keeps a bounded replay
// ring per run. Slow subscribers lose events rather than block publishers.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	mirror      *RedisMirror
}

func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// SetMirror attaches a Redis Streams mirror; every published event is also
// appended to the run's stream. Optional.
func (m *Manager) SetMirror(mirror *RedisMirror) {
	m.mu.Lock()
	m.mirror = mirror
	m.mu.Unlock()
}

// Subscribe registers a channel for a run's events. The caller must drain it
// and call Unsubscribe when done.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
			metrics.StreamSubscribers.Dec()
		}
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish assigns the event its sequence number, records it for replay, and
// delivers it to subscribers. Sends are non-blocking and happen under the
// lock so Unsubscribe can never close a channel mid-send.
func (m *Manager) Publish(evt Event) {
	m.mu.Lock()
	rg := m.history[evt.RunID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.RunID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	for ch := range m.subscribers[evt.RunID] {
		select {
		case ch <- evt:
		default:
			metrics.StreamEventsDropped.Inc()
		}
	}
	mirror := m.mirror
	m.mu.Unlock()

	metrics.StreamEventsPublished.WithLabelValues(evt.Type).Inc()
	if mirror != nil {
		mirror.enqueue(evt)
	}
}

// ReplaySince returns the run's buffered events with Seq > since, best-effort
// within the ring capacity.
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[runID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget releases the run's replay buffer. Active subscribers are untouched.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	delete(m.history, runID)
	m.mu.Unlock()
}

// ring is a fixed-capacity replay buffer. Sequence numbers start at 1 so a
// ReplaySince with since == 0 returns everything buffered.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity), nextSeq: 1}
}

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
