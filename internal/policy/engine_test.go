package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const submitPolicy = `package propensity.submit

import rego.v1

default decision := {"allow": false, "reason": "no rule matched"}

decision := {"allow": true, "reason": "ok"} if {
	trim_space(input.query) != ""
	not blocked
}

decision := {"allow": false, "reason": "empty query"} if {
	trim_space(input.query) == ""
}

decision := {"allow": false, "reason": "blocked user"} if {
	blocked
}

blocked if {
	input.user_id == "banned"
}
`

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "submit.rego"), []byte(content), 0o644))
	return dir
}

func TestEngineAllowsValidSubmission(t *testing.T) {
	engine, err := NewEngine(Config{
		Enabled: true,
		Mode:    ModeEnforce,
		Path:    writePolicy(t, submitPolicy),
	}, zap.NewNop())
	require.NoError(t, err)
	require.True(t, engine.Enabled())

	d, err := engine.Check(context.Background(), Input{Query: "Analyze Meta", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, "ok", d.Reason)
}

func TestEngineDeniesEmptyQuery(t *testing.T) {
	engine, err := NewEngine(Config{
		Enabled: true,
		Mode:    ModeEnforce,
		Path:    writePolicy(t, submitPolicy),
	}, zap.NewNop())
	require.NoError(t, err)

	d, err := engine.Check(context.Background(), Input{Query: "   "})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "empty query", d.Reason)
}

func TestEngineDeniesBlockedUser(t *testing.T) {
	engine, err := NewEngine(Config{
		Enabled: true,
		Mode:    ModeEnforce,
		Path:    writePolicy(t, submitPolicy),
	}, zap.NewNop())
	require.NoError(t, err)

	d, err := engine.Check(context.Background(), Input{Query: "Analyze Meta", UserID: "banned"})
	require.NoError(t, err)
	assert.False(t, d.Allow)
}

func TestDryRunAllowsDeniedSubmission(t *testing.T) {
	engine, err := NewEngine(Config{
		Enabled: true,
		Mode:    ModeDryRun,
		Path:    writePolicy(t, submitPolicy),
	}, zap.NewNop())
	require.NoError(t, err)

	d, err := engine.Check(context.Background(), Input{Query: ""})
	require.NoError(t, err)
	assert.True(t, d.Allow, "dry-run must not block")
	assert.Equal(t, "empty query", d.Reason)
}

func TestModeOffSkipsEvaluation(t *testing.T) {
	engine, err := NewEngine(Config{Enabled: true, Mode: ModeOff, Path: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	require.False(t, engine.Enabled())

	d, err := engine.Check(context.Background(), Input{Query: ""})
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestMissingPoliciesFailOpen(t *testing.T) {
	engine, err := NewEngine(Config{
		Enabled: true,
		Mode:    ModeEnforce,
		Path:    filepath.Join(t.TempDir(), "does-not-exist"),
	}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, engine.Enabled())

	d, err := engine.Check(context.Background(), Input{Query: "anything"})
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestMissingPoliciesFailClosed(t *testing.T) {
	_, err := NewEngine(Config{
		Enabled:    true,
		Mode:       ModeEnforce,
		Path:       filepath.Join(t.TempDir(), "does-not-exist"),
		FailClosed: true,
	}, zap.NewNop())
	assert.Error(t, err)
}

func TestHotReloadSwapsPolicies(t *testing.T) {
	dir := writePolicy(t, submitPolicy)
	engine, err := NewEngine(Config{Enabled: true, Mode: ModeEnforce, Path: dir}, zap.NewNop())
	require.NoError(t, err)

	d, err := engine.Check(context.Background(), Input{Query: "Analyze Meta"})
	require.NoError(t, err)
	require.True(t, d.Allow)

	denyAll := `package propensity.submit

import rego.v1

default decision := {"allow": false, "reason": "maintenance"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "submit.rego"), []byte(denyAll), 0o644))
	require.NoError(t, engine.LoadPolicies())

	d, err = engine.Check(context.Background(), Input{Query: "Analyze Meta"})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "maintenance", d.Reason)
}

// The config watcher reloads policies on its own goroutine while HTTP
// handlers keep evaluating submissions; run both sides hard under -race.
func TestConcurrentReloadAndCheck(t *testing.T) {
	dir := writePolicy(t, submitPolicy)
	engine, err := NewEngine(Config{Enabled: true, Mode: ModeEnforce, Path: dir}, zap.NewNop())
	require.NoError(t, err)

	const iterations = 200
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			require.NoError(t, engine.LoadPolicies())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			d, err := engine.Check(context.Background(), Input{Query: "Analyze Meta", UserID: "u1"})
			require.NoError(t, err)
			require.True(t, d.Allow)
		}
	}()

	wg.Wait()
}
