// Package policy gates run submissions through OPA. Policies are plain
// .rego files evaluated against the submitting user and query; the
// decision document lives at data.propensity.submit.decision.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/signalworks/propensity/internal/metrics"
)

const decisionQuery = "data.propensity.submit.decision"

// Input is the document handed to the policy for one submission.
type Input struct {
	Query          string    `json:"query"`
	UserID         string    `json:"user_id,omitempty"`
	Role           string    `json:"role,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Environment    string    `json:"environment"`
	Timestamp      time.Time `json:"timestamp"`
}

// Decision is the policy evaluation result.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Engine evaluates submissions against the loaded rego policies. Check and
// LoadPolicies are safe to call concurrently; a reload swaps the prepared
// query whole under the lock.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	enabled bool

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
}

// NewEngine loads and compiles the policies under cfg.Path. A load failure
// is fatal only in fail-closed mode; otherwise the engine starts disabled
// and allows everything.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		enabled: cfg.Enabled && cfg.Mode != ModeOff,
	}

	if e.enabled {
		if err := e.LoadPolicies(); err != nil {
			if cfg.FailClosed {
				return nil, fmt.Errorf("load policies (fail-closed): %w", err)
			}
			logger.Warn("failed to load policies, running fail-open", zap.Error(err))
			e.enabled = false
		}
	}
	return e, nil
}

// Mode returns the configured enforcement mode.
func (e *Engine) Mode() Mode { return e.cfg.Mode }

// Enabled reports whether submissions are actually evaluated.
func (e *Engine) Enabled() bool { return e.enabled }

// LoadPolicies compiles every .rego file under the configured directory.
// Safe to call again on a hot reload; the prepared query is swapped whole.
func (e *Engine) LoadPolicies() error {
	modules := make(map[string]string)

	err := filepath.Walk(e.cfg.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read policy file %s: %w", path, err)
		}
		rel, _ := filepath.Rel(e.cfg.Path, path)
		modules[strings.TrimSuffix(rel, ".rego")] = string(content)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk policy directory: %w", err)
	}
	if len(modules) == 0 {
		if e.cfg.FailClosed {
			return fmt.Errorf("no policies found in %s", e.cfg.Path)
		}
		e.logger.Warn("no policy files found", zap.String("path", e.cfg.Path))
		return nil
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for name, content := range modules {
		opts = append(opts, rego.Module(name, content))
	}

	compiled, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("compile policies: %w", err)
	}
	e.mu.Lock()
	e.compiled = &compiled
	e.mu.Unlock()

	e.logger.Info("policies loaded",
		zap.Int("modules", len(modules)),
		zap.String("query", decisionQuery),
		zap.String("mode", string(e.cfg.Mode)))
	return nil
}

// Check evaluates one submission. In dry-run mode denials are logged but
// the submission is allowed through; only enforce mode blocks.
func (e *Engine) Check(ctx context.Context, in Input) (Decision, error) {
	d := e.evaluate(ctx, in)

	outcome := "allow"
	if !d.Allow {
		outcome = "deny"
	}
	metrics.PolicyDecisions.WithLabelValues(outcome, string(e.cfg.Mode)).Inc()

	if !d.Allow && e.cfg.Mode == ModeDryRun {
		e.logger.Warn("policy would deny submission (dry-run)",
			zap.String("user_id", in.UserID),
			zap.String("reason", d.Reason))
		return Decision{Allow: true, Reason: d.Reason}, nil
	}
	return d, nil
}

func (e *Engine) evaluate(ctx context.Context, in Input) Decision {
	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	if !e.enabled || compiled == nil {
		return Decision{Allow: true, Reason: "policy engine disabled"}
	}

	if in.Environment == "" {
		in.Environment = e.cfg.Environment
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}

	results, err := compiled.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		e.logger.Error("policy evaluation failed", zap.Error(err))
		if e.cfg.FailClosed {
			return Decision{Allow: false, Reason: "policy evaluation error"}
		}
		return Decision{Allow: true, Reason: "policy evaluation error (fail-open)"}
	}
	return e.parseDecision(results)
}

// parseDecision extracts {allow, reason} from the decision document. An
// empty or malformed result falls back to the fail-open/closed default.
func (e *Engine) parseDecision(results rego.ResultSet) Decision {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: !e.cfg.FailClosed, Reason: "no decision produced"}
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{Allow: !e.cfg.FailClosed, Reason: "malformed decision document"}
	}

	d := Decision{}
	if allow, ok := doc["allow"].(bool); ok {
		d.Allow = allow
	}
	if reason, ok := doc["reason"].(string); ok {
		d.Reason = reason
	}
	return d
}
