package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// apiKeyEnv is the required LLM credential. Startup fails without it.
const apiKeyEnv = "OPENAI_API_KEY"

// baseURLEnv optionally points the client at an OpenAI-compatible gateway.
const baseURLEnv = "OPENAI_BASE_URL"

// Initialize loads the configuration file, expands environment variables,
// merges built-in defaults under the user's values and validates the
// result. A missing file yields pure defaults; a missing API key is fatal.
func Initialize(path string) (*Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Warn("Config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		// Unknown YAML keys are ignored by design.
		if err := yaml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	def := defaults()
	if err := mergo.Merge(&cfg, def); err != nil {
		return nil, fmt.Errorf("merge config defaults: %w", err)
	}

	cfg.APIKey = os.Getenv(apiKeyEnv)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s is required", apiKeyEnv)
	}
	if cfg.Agent.BaseURL == "" {
		cfg.Agent.BaseURL = os.Getenv(baseURLEnv)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("Configuration initialized",
		"path", path,
		"model", cfg.Agent.Model,
		"context_window", cfg.Agent.ContextWindow,
		"planning_mode", cfg.Agent.PlanningMode,
		"reminders", len(cfg.Scheduler.Reminders))
	return &cfg, nil
}

// validate rejects configurations the runtime cannot honor. Out-of-range
// tunables are clamped rather than rejected where a safe value exists.
func validate(cfg *Config) error {
	switch cfg.Agent.PlanningMode {
	case "fast", "auto", "autonomous":
	default:
		return fmt.Errorf("agent.planning_mode must be fast, auto or autonomous, got %q", cfg.Agent.PlanningMode)
	}
	if cfg.Agent.ContextWindow < 1 {
		return fmt.Errorf("agent.context_window must be positive, got %d", cfg.Agent.ContextWindow)
	}
	if cfg.Agent.CompactionTokenRatio <= 0 || cfg.Agent.CompactionTokenRatio > 1 {
		return fmt.Errorf("agent.compaction_token_ratio must be in (0, 1], got %g", cfg.Agent.CompactionTokenRatio)
	}
	if cfg.Scheduler.TickSeconds < 1 {
		cfg.Scheduler.TickSeconds = 1
	}
	if cfg.Scheduler.Heartbeat.IntervalMinutes < 1 {
		cfg.Scheduler.Heartbeat.IntervalMinutes = 1
	}
	if cfg.Queue.FastCap < 1 || cfg.Queue.SlowCap < 1 || cfg.Queue.BackgroundCap < 1 {
		return fmt.Errorf("queue caps must be positive, got fast=%d slow=%d background=%d",
			cfg.Queue.FastCap, cfg.Queue.SlowCap, cfg.Queue.BackgroundCap)
	}
	for _, p := range []struct {
		name   string
		policy PolicyConfig
	}{
		{"agent", cfg.Resilience.Agent},
		{"scheduler", cfg.Resilience.Scheduler},
		{"memory", cfg.Resilience.Memory},
	} {
		if p.policy.MaxAttempts < 1 {
			return fmt.Errorf("resilience.%s.max_attempts must be positive, got %d", p.name, p.policy.MaxAttempts)
		}
		if p.policy.FailureThreshold < 1 {
			return fmt.Errorf("resilience.%s.failure_threshold must be positive, got %d", p.name, p.policy.FailureThreshold)
		}
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", cfg.Server.Port)
	}
	return nil
}
