// Package health runs periodic dependency checks and serves the
// liveness/readiness endpoints. Critical checkers gate readiness;
// non-critical ones only degrade the reported status.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the outcome of one check or of the service as a whole.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CheckResult is one checker's most recent outcome.
type CheckResult struct {
	Status    Status        `json:"-"`
	State     string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type registration struct {
	checker  Checker
	critical bool
}

// Manager owns the registered checkers and their last results.
type Manager struct {
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	mu       sync.RWMutex
	checkers []registration
	results  map[string]CheckResult

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger,
		interval: interval,
		timeout:  10 * time.Second,
		results:  make(map[string]CheckResult),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Register adds a checker. Critical checkers must pass for the service to
// report ready.
func (m *Manager) Register(c Checker, critical bool) {
	m.mu.Lock()
	m.checkers = append(m.checkers, registration{checker: c, critical: critical})
	m.mu.Unlock()
}

// Start runs an immediate round of checks and then keeps checking on the
// configured interval until Stop.
func (m *Manager) Start() {
	m.runChecks()
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.runChecks()
			}
		}
	}()
}

// Stop halts the background loop.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) runChecks() {
	m.mu.RLock()
	regs := make([]registration, len(m.checkers))
	copy(regs, m.checkers)
	m.mu.RUnlock()

	for _, reg := range regs {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		start := time.Now()
		err := reg.checker.Check(ctx)
		cancel()

		result := CheckResult{
			Status:    StatusHealthy,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Error = err.Error()
			m.logger.Warn("health check failed",
				zap.String("check", reg.checker.Name()),
				zap.Bool("critical", reg.critical),
				zap.Error(err))
		}
		result.State = result.Status.String()

		m.mu.Lock()
		m.results[reg.checker.Name()] = result
		m.mu.Unlock()
	}
}

// Results returns a copy of the latest results keyed by checker name.
func (m *Manager) Results() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.results))
	for k, v := range m.results {
		out[k] = v
	}
	return out
}

// Overall reduces the latest results: any failing critical checker means
// unhealthy, any failing non-critical one means degraded.
func (m *Manager) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := StatusHealthy
	for _, reg := range m.checkers {
		result, ok := m.results[reg.checker.Name()]
		if !ok {
			if status == StatusHealthy {
				status = StatusUnknown
			}
			continue
		}
		if result.Status == StatusUnhealthy {
			if reg.critical {
				return StatusUnhealthy
			}
			status = StatusDegraded
		}
	}
	return status
}

// Ready reports whether every critical checker passed its last check.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, reg := range m.checkers {
		if !reg.critical {
			continue
		}
		result, ok := m.results[reg.checker.Name()]
		if !ok || result.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}
