package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 0.4, cfg.Conflict.ConfidenceDelta)
	assert.Equal(t, 3.0, cfg.Conflict.IssueCountRatio)
	assert.Equal(t, 5, cfg.Conflict.IssueCountGap)
	assert.Equal(t, 3000, cfg.MaxContextChars)

	assert.Equal(t, TierBudget{Legal: 5, Firm: 3, Episodic: 3, Preferences: 5}, cfg.TierBudgets)

	require.NoError(t, cfg.Validate())
}

func TestWeightsForKnownAgents(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ContextWeights{Legal: 2, Firm: 2, Episodic: 1, Preferences: -1}, cfg.WeightsFor("structure"))
	assert.Equal(t, ContextWeights{Legal: -1, Firm: -1, Episodic: -1, Preferences: 2}, cfg.WeightsFor("legal"))
}

func TestWeightsForUnknownAgentUsesDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Weights["default"], cfg.WeightsFor("novelty"))
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Conflict, cfg.Conflict)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
conflict:
  confidence_delta: 0.3
  issue_count_ratio: 2.5
  issue_count_gap: 4
retry:
  max_retries: 5
  initial_delay: 250ms
db_path: /tmp/test.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.3, cfg.Conflict.ConfidenceDelta)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 3000, cfg.MaxContextChars, "unset keys keep their defaults")
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conflict:\n  confidence_delta: 1.5\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence_delta")
}

func TestValidateRejectsModellessAgent(t *testing.T) {
	cfg := Default()
	cfg.Agents["novelty"] = AgentConfig{Provider: "openai"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "novelty")
}
