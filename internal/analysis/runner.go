package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signalworks/propensity/internal/metrics"
	"github.com/signalworks/propensity/internal/streaming"
)

// RunState tracks a run through its lifecycle.
type RunState string

const (
	StateCreated   RunState = "created"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateTimedOut  RunState = "timed_out"
	StateFailed    RunState = "failed"
)

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateTimedOut || s == StateFailed
}

// Run is a snapshot of one analysis run.
type Run struct {
	ID             string
	ConversationID string
	UserID         string
	Query          string
	State          RunState
	StartedAt      time.Time
	CompletedAt    time.Time
	Result         FinalResult
}

// ConversationStore persists the user/assistant exchange around a run.
type ConversationStore interface {
	AppendMessage(ctx context.Context, conversationID, role, content string) error
}

// RunRecorder receives run lifecycle records, typically for durable history.
type RunRecorder interface {
	RunStarted(ctx context.Context, run Run)
	RunFinished(ctx context.Context, run Run)
}

var (
	ErrTooManyRuns  = errors.New("too many active runs")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrRunNotFound  = errors.New("run not found")
	ErrRunnerClosed = errors.New("runner is shut down")
)

// RunnerConfig tunes run supervision. Zero values fall back to defaults;
// RatePerSecond <= 0 disables per-user rate limiting.
type RunnerConfig struct {
	Timeout       time.Duration
	MaxConcurrent int
	Retention     time.Duration
	RatePerSecond float64
	RateBurst     int
}

const (
	defaultRunTimeout = 300 * time.Second
	defaultMaxRuns    = 32
	defaultRetention  = time.Hour
)

type runHandle struct {
	run  Run
	done chan struct{}
}

// Runner starts and tracks analysis runs. Each run executes on its own
// wall-clock budget detached from the submitting request, so a closed
// connection never cancels an analysis in flight.
type Runner struct {
	engine   *Engine
	store    ConversationStore
	recorder RunRecorder
	streams  *streaming.Manager
	logger   *zap.Logger
	cfg      RunnerConfig

	baseCtx    context.Context
	cancelRuns context.CancelFunc

	mu       sync.RWMutex
	runs     map[string]*runHandle
	active   int
	closed   bool
	limiters map[string]*rate.Limiter
}

func NewRunner(engine *Engine, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRunTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxRuns
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Runner{
		engine:     engine,
		streams:    engine.streams,
		logger:     logger,
		cfg:        cfg,
		baseCtx:    baseCtx,
		cancelRuns: cancel,
		runs:       make(map[string]*runHandle),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// SetConversationStore wires message persistence. Optional.
func (r *Runner) SetConversationStore(store ConversationStore) { r.store = store }

// SetRecorder wires durable run history. Optional.
func (r *Runner) SetRecorder(rec RunRecorder) { r.recorder = rec }

// SetTimeout changes the wall-clock budget for runs started after the
// call; in-flight runs keep the budget they started with.
func (r *Runner) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.cfg.Timeout = d
	r.mu.Unlock()
}

func (r *Runner) timeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Timeout
}

// Submit validates capacity and rate limits, appends the user message to the
// conversation, and starts the run in the background. The returned snapshot
// is in StateCreated; progress is observable via Get, Wait, or the stream.
func (r *Runner) Submit(ctx context.Context, conversationID, userID, query string) (Run, error) {
	if err := r.admit(userID); err != nil {
		return Run{}, err
	}

	if r.store != nil && conversationID != "" {
		if err := r.store.AppendMessage(ctx, conversationID, "user", query); err != nil {
			r.release()
			return Run{}, err
		}
	}

	h := &runHandle{
		run: Run{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			UserID:         userID,
			Query:          query,
			State:          StateCreated,
			StartedAt:      time.Now(),
		},
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.pruneLocked()
	r.runs[h.run.ID] = h
	r.mu.Unlock()

	metrics.RunsStarted.Inc()
	metrics.ActiveRuns.Inc()

	go r.execute(h)
	return h.run, nil
}

// RunAnalysis starts a run and blocks until it finishes or ctx is done. The
// run keeps executing on its own budget even if the caller gives up.
func (r *Runner) RunAnalysis(ctx context.Context, conversationID, userID, query string) (FinalResult, error) {
	run, err := r.Submit(ctx, conversationID, userID, query)
	if err != nil {
		return FinalResult{}, err
	}
	return r.Wait(ctx, run.ID)
}

// Get returns a snapshot of the run.
func (r *Runner) Get(runID string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.runs[runID]
	if !ok {
		return Run{}, false
	}
	return h.run, true
}

// Wait blocks until the run reaches a terminal state or ctx is done.
func (r *Runner) Wait(ctx context.Context, runID string) (FinalResult, error) {
	r.mu.RLock()
	h, ok := r.runs[runID]
	r.mu.RUnlock()
	if !ok {
		return FinalResult{}, ErrRunNotFound
	}

	select {
	case <-ctx.Done():
		return FinalResult{}, ctx.Err()
	case <-h.done:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return h.run.Result, nil
}

// ActiveRuns returns the number of runs not yet terminal.
func (r *Runner) ActiveRuns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Runner) execute(h *runHandle) {
	runID := h.run.ID
	query := h.run.Query
	convID := h.run.ConversationID

	r.setState(h, StateRunning)
	r.publish(runID, streaming.EventRunStarted, "analysis run started")
	if r.recorder != nil {
		r.recorder.RunStarted(context.Background(), r.snapshot(h))
	}

	budget := r.timeout()
	ctx, cancel := context.WithTimeout(r.baseCtx, budget)
	defer cancel()

	result, err := r.engine.Execute(ctx, runID, query)

	var state RunState
	var event, outcome, message string
	switch {
	case err == nil:
		state, event, outcome = StateCompleted, streaming.EventRunCompleted, "completed"
		message = "analysis run completed"
	case errors.Is(err, context.DeadlineExceeded):
		state, event, outcome = StateTimedOut, streaming.EventRunTimedOut, "timed_out"
		message = "analysis run timed out"
		r.logger.Warn("analysis run timed out", zap.String("run_id", runID), zap.Duration("timeout", budget))
		result = FallbackResult(query)
	default:
		state, event, outcome = StateFailed, streaming.EventRunFailed, "failed"
		message = "analysis run failed"
		r.logger.Error("analysis run failed", zap.String("run_id", runID), zap.Error(err))
		result = FallbackResult(query)
	}

	// Persist the assistant turn before waiters are released so a sync
	// caller observes the conversation already updated.
	if r.store != nil && convID != "" {
		if err := r.store.AppendMessage(context.Background(), convID, "assistant", result.Response); err != nil {
			r.logger.Warn("failed to persist assistant message",
				zap.String("run_id", runID),
				zap.String("conversation_id", convID),
				zap.Error(err))
		}
	}

	r.finish(h, state, result)
	r.publish(runID, event, message)

	snap := r.snapshot(h)
	metrics.ActiveRuns.Dec()
	metrics.RecordRunMetrics(outcome, snap.CompletedAt.Sub(snap.StartedAt).Seconds())

	if r.recorder != nil {
		r.recorder.RunFinished(context.Background(), snap)
	}
}

// Shutdown cancels in-flight runs and waits for them to reach a terminal
// state. Further submissions are rejected.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancelRuns()

	r.mu.RLock()
	var pending []chan struct{}
	for _, h := range r.runs {
		if !h.run.State.Terminal() {
			pending = append(pending, h.done)
		}
	}
	r.mu.RUnlock()

	for _, done := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
	return nil
}

// admit enforces the concurrency cap and the per-user rate limit, reserving
// an active slot on success.
func (r *Runner) admit(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		metrics.RunsRejected.WithLabelValues("closed").Inc()
		return ErrRunnerClosed
	}
	if r.active >= r.cfg.MaxConcurrent {
		metrics.RunsRejected.WithLabelValues("capacity").Inc()
		return ErrTooManyRuns
	}
	if r.cfg.RatePerSecond > 0 && userID != "" {
		lim, ok := r.limiters[userID]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(r.cfg.RatePerSecond), r.cfg.RateBurst)
			r.limiters[userID] = lim
		}
		if !lim.Allow() {
			metrics.RunsRejected.WithLabelValues("rate_limit").Inc()
			return ErrRateLimited
		}
	}
	r.active++
	return nil
}

func (r *Runner) release() {
	r.mu.Lock()
	r.active--
	r.mu.Unlock()
}

func (r *Runner) setState(h *runHandle, s RunState) {
	r.mu.Lock()
	h.run.State = s
	r.mu.Unlock()
}

func (r *Runner) finish(h *runHandle, s RunState, result FinalResult) {
	r.mu.Lock()
	h.run.State = s
	h.run.Result = result
	h.run.CompletedAt = time.Now()
	r.active--
	r.mu.Unlock()
	close(h.done)
}

func (r *Runner) snapshot(h *runHandle) Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return h.run
}

// pruneLocked drops terminal runs past the retention window. Caller holds mu.
func (r *Runner) pruneLocked() {
	cutoff := time.Now().Add(-r.cfg.Retention)
	for id, h := range r.runs {
		if h.run.State.Terminal() && h.run.CompletedAt.Before(cutoff) {
			delete(r.runs, id)
		}
	}
}

func (r *Runner) publish(runID, eventType, message string) {
	if r.streams == nil {
		return
	}
	r.streams.Publish(streaming.Event{
		RunID:     runID,
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
	})
}
