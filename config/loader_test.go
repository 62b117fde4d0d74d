package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 10*time.Minute, cfg.Engine.Matcher.IdleTimeout)
	assert.Equal(t, 2, cfg.Engine.Matcher.MinSteps)
	assert.InDelta(t, 0.8, cfg.Engine.Matcher.SimilarityFloor, 1e-9)
	assert.Equal(t, 5, cfg.Engine.Scorer.RecurrenceTarget)
	assert.InDelta(t, 0.7, cfg.Engine.Policy.SuggestThreshold, 1e-9)
	assert.Equal(t, 10, cfg.Engine.Policy.FailureWindow)
	assert.Equal(t, 1, cfg.Engine.Orchestrator.MaxRetries)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestLoad_YAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_port: 9999
engine:
  matcher:
    idle_timeout: 5m
    min_steps: 3
  policy:
    suggest_threshold: 0.9
store:
  type: redis
  redis:
    addr: redis.internal:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Minute, cfg.Engine.Matcher.IdleTimeout)
	assert.Equal(t, 3, cfg.Engine.Matcher.MinSteps)
	assert.InDelta(t, 0.9, cfg.Engine.Policy.SuggestThreshold, 1e-9)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Store.Redis.Addr)
	// Untouched values keep defaults.
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DELA_SERVER_HTTP_PORT", "7070")
	t.Setenv("DELA_ENGINE_MATCHER_IDLE_TIMEOUT", "30s")
	t.Setenv("DELA_ENGINE_MATCHER_TERMINAL_ACTIONS", "logout, session_end")
	t.Setenv("DELA_ENGINE_POLICY_FAILURE_RATE_BOUND", "0.5")
	t.Setenv("DELA_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Engine.Matcher.IdleTimeout)
	assert.Equal(t, []string{"logout", "session_end"}, cfg.Engine.Matcher.TerminalActions)
	assert.InDelta(t, 0.5, cfg.Engine.Policy.FailureRateBound, 1e-9)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoad_ValidationRejectsBadWeights(t *testing.T) {
	t.Setenv("DELA_ENGINE_SCORER_RECURRENCE_WEIGHT", "0.9")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to 1")
}

func TestLoad_ValidationRejectsBadFloor(t *testing.T) {
	t.Setenv("DELA_ENGINE_MATCHER_SIMILARITY_FLOOR", "1.5")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "similarity floor")
}
