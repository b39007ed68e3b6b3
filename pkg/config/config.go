// Package config provides configuration management for the patent analysis
// workflow.
//
// Configuration architecture:
//   - A single YAML file holds tunable policy: model selection per agent,
//     retry budgets, conflict thresholds, context weighting and tier limits.
//   - Secrets (API keys) come exclusively from environment variables and are
//     never written to disk.
//   - Zero values fall back to the defaults below, so an empty config file is
//     valid and tests can construct Config literals directly.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names for credentials.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvOllamaHost   = "OLLAMA_HOST"
)

// AgentConfig holds per-agent model selection and sampling parameters.
type AgentConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RetryPolicy bounds the per-agent retry loop around transient LLM failures.
type RetryPolicy struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// UnmarshalYAML accepts Go duration strings ("250ms", "10s") for the delay
// fields and leaves unset fields at their prior (default) values.
func (r *RetryPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRetries   *int    `yaml:"max_retries"`
		InitialDelay *string `yaml:"initial_delay"`
		MaxDelay     *string `yaml:"max_delay"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxRetries != nil {
		r.MaxRetries = *raw.MaxRetries
	}
	if raw.InitialDelay != nil {
		d, err := time.ParseDuration(*raw.InitialDelay)
		if err != nil {
			return fmt.Errorf("retry.initial_delay: %w", err)
		}
		r.InitialDelay = d
	}
	if raw.MaxDelay != nil {
		d, err := time.ParseDuration(*raw.MaxDelay)
		if err != nil {
			return fmt.Errorf("retry.max_delay: %w", err)
		}
		r.MaxDelay = d
	}
	return nil
}

// ConflictPolicy holds the cross-validation thresholds.
type ConflictPolicy struct {
	// ConfidenceDelta is the gap between two agents' confidence scores above
	// which a high-severity conflict is recorded.
	ConfidenceDelta float64 `yaml:"confidence_delta"`
	// IssueCountRatio and IssueCountGap together flag asymmetric issue
	// detection as a medium-severity conflict.
	IssueCountRatio float64 `yaml:"issue_count_ratio"`
	IssueCountGap   int     `yaml:"issue_count_gap"`
}

// TierBudget bounds how many records each knowledge tier contributes when a
// shared context is built.
type TierBudget struct {
	Legal       int `yaml:"legal"`
	Firm        int `yaml:"firm"`
	Episodic    int `yaml:"episodic"`
	Preferences int `yaml:"preferences"`
}

// ContextWeights selects how many records of each kind an agent's context
// slice receives. -1 means all available.
type ContextWeights struct {
	Legal       int `yaml:"legal"`
	Firm        int `yaml:"firm"`
	Episodic    int `yaml:"episodic"`
	Preferences int `yaml:"preferences"`
}

// Config is the root configuration for a workflow deployment.
type Config struct {
	// Agents maps agent name ("structure", "legal") to its LLM settings.
	Agents map[string]AgentConfig `yaml:"agents"`

	Retry    RetryPolicy    `yaml:"retry"`
	Conflict ConflictPolicy `yaml:"conflict"`

	// TierBudgets applies when building the shared context from the store.
	TierBudgets TierBudget `yaml:"tier_budgets"`

	// Weights maps agent name to its context slice weights. The "default"
	// entry applies to agents without an explicit row.
	Weights map[string]ContextWeights `yaml:"weights"`

	// MaxContextChars bounds the formatted prompt context.
	MaxContextChars int `yaml:"max_context_chars"`

	// DBPath is the SQLite database holding knowledge tiers and documents.
	DBPath string `yaml:"db_path"`

	// PriorArtURL is the base URL of the prior-art search service. Empty
	// disables prior-art lookups (the legal agent proceeds without them).
	PriorArtURL string `yaml:"prior_art_url"`

	// PrometheusURL enables the metrics query service when set.
	PrometheusURL string `yaml:"prometheus_url"`

	// EventLogDir is where workflow event JSONL files are written.
	EventLogDir string `yaml:"event_log_dir"`

	// EmbeddingDims is the dimensionality of the deterministic embedder.
	EmbeddingDims int `yaml:"embedding_dims"`
}

// Default returns the baseline configuration. All policy numbers here are
// load-bearing for analysis semantics; change them only deliberately.
func Default() Config {
	return Config{
		Agents: map[string]AgentConfig{
			"structure": {Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.0, MaxTokens: 1500},
			"legal":     {Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.3, MaxTokens: 800},
		},
		Retry: RetryPolicy{
			MaxRetries:   3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     10 * time.Second,
		},
		Conflict: ConflictPolicy{
			ConfidenceDelta: 0.4,
			IssueCountRatio: 3.0,
			IssueCountGap:   5,
		},
		TierBudgets: TierBudget{
			Legal:       5,
			Firm:        3,
			Episodic:    3,
			Preferences: 5,
		},
		Weights: map[string]ContextWeights{
			"structure": {Legal: 2, Firm: 2, Episodic: 1, Preferences: -1},
			"legal":     {Legal: -1, Firm: -1, Episodic: -1, Preferences: 2},
			"default":   {Legal: 3, Firm: 2, Episodic: 2, Preferences: 3},
		},
		MaxContextChars: 3000,
		DBPath:          "patentflow.db",
		EventLogDir:     "logs/events",
		EmbeddingDims:   256,
	}
}

// Load reads a YAML config file and merges it over the defaults. A missing
// file is not an error: the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate rejects configurations that would silently corrupt analysis
// semantics.
func (c *Config) Validate() error {
	if c.Conflict.ConfidenceDelta <= 0 || c.Conflict.ConfidenceDelta >= 1 {
		return fmt.Errorf("conflict.confidence_delta must be in (0, 1), got %v", c.Conflict.ConfidenceDelta)
	}
	if c.Conflict.IssueCountRatio < 1 {
		return fmt.Errorf("conflict.issue_count_ratio must be >= 1, got %v", c.Conflict.IssueCountRatio)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.MaxContextChars <= 0 {
		return fmt.Errorf("max_context_chars must be positive, got %d", c.MaxContextChars)
	}
	if c.EmbeddingDims <= 0 {
		return fmt.Errorf("embedding_dims must be positive, got %d", c.EmbeddingDims)
	}
	for name, agent := range c.Agents {
		if agent.Model == "" {
			return fmt.Errorf("agent %q has no model configured", name)
		}
	}
	return nil
}

// WeightsFor returns the context weights for an agent, falling back to the
// "default" row for unknown agents.
func (c *Config) WeightsFor(agent string) ContextWeights {
	if w, ok := c.Weights[agent]; ok {
		return w
	}
	if w, ok := c.Weights["default"]; ok {
		return w
	}
	return ContextWeights{Legal: 3, Firm: 2, Episodic: 2, Preferences: 3}
}

// AnthropicKey returns the Anthropic API key from the environment.
func AnthropicKey() string { return os.Getenv(EnvAnthropicKey) }

// OpenAIKey returns the OpenAI API key from the environment.
func OpenAIKey() string { return os.Getenv(EnvOpenAIKey) }

// OllamaHost returns the Ollama host URL from the environment.
func OllamaHost() string { return os.Getenv(EnvOllamaHost) }
