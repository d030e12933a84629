// Package circuitbreaker guards the external backends of the analysis
// service (Redis conversation store, Postgres history, outbound HTTP)
// with a shared three-state breaker so a struggling dependency fails
// fast instead of stalling runs.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker's admission state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// Config tunes one breaker. Per-backend presets live in config.go.
type Config struct {
	MaxRequests      uint32        // half-open probe allowance
	Interval         time.Duration // closed-state counter window; 0 keeps counts forever
	Timeout          time.Duration // open-state cooldown before probing
	FailureThreshold uint32        // consecutive failures that trip the breaker
	SuccessThreshold uint32        // consecutive probe successes that reset it
	OnStateChange    func(name string, from, to State)
}

// DefaultConfig is the baseline for backends without a preset.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts is a snapshot of the current generation's bookkeeping.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker tracks one backend. Counters are generational: every
// state change, and every counter-window roll while closed, starts a
// fresh generation, and outcomes settled against an older generation
// are discarded.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	deadline   time.Time // closed: counter-window end; open: probe time
}

func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
	}
	if config.Interval > 0 {
		cb.deadline = time.Now().Add(config.Interval)
	}
	return cb
}

// Execute runs fn if the breaker admits the request and records the
// outcome. A request whose own context expires is forgiven: the run's
// budget ran out, not the backend, so the outcome neither trips nor
// resets the breaker. Panics count as failures and are re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	gen, err := cb.admit(time.Now())
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.settle(gen, false)
			panic(r)
		}
	}()

	err = fn()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.forgive(gen)
		return err
	}
	cb.settle(gen, err == nil)
	return err
}

// State returns the breaker state, applying any due time-based
// transition first so an open breaker past its cooldown reads half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.advance(time.Now())
	return state
}

// Counts returns the current generation's counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// admit decides whether a request may proceed and reserves its slot.
func (cb *CircuitBreaker) admit(now time.Time) (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, gen := cb.advance(now)
	switch {
	case state == StateOpen:
		return gen, ErrCircuitBreakerOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests:
		return gen, ErrTooManyRequests
	}
	cb.counts.Requests++
	return gen, nil
}

// settle records the outcome of an admitted request.
func (cb *CircuitBreaker) settle(gen uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, current := cb.advance(now)
	if current != gen {
		// A generation rolled while the request was in flight; its
		// outcome no longer applies.
		return
	}

	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// forgive releases the slot of a request whose caller gave up before the
// backend answered; its outcome is unknown and must not count.
func (cb *CircuitBreaker) forgive(gen uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.generation == gen && cb.counts.Requests > 0 {
		cb.counts.Requests--
	}
}

// advance applies time-based transitions and returns the resulting state
// and generation. Caller holds mu.
func (cb *CircuitBreaker) advance(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.deadline.IsZero() && cb.deadline.Before(now) {
			cb.roll(now)
		}
	case StateOpen:
		if cb.deadline.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

// setState transitions the breaker and starts a fresh generation.
// Caller holds mu.
func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.roll(now)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}

// roll starts a new generation and schedules its deadline. Caller holds mu.
func (cb *CircuitBreaker) roll(now time.Time) {
	cb.generation++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		if cb.config.Interval > 0 {
			cb.deadline = now.Add(cb.config.Interval)
		} else {
			cb.deadline = time.Time{}
		}
	case StateOpen:
		cb.deadline = now.Add(cb.config.Timeout)
	default:
		cb.deadline = time.Time{}
	}
}
