// Package config loads and validates the runtime configuration from YAML
// with environment-variable expansion and built-in defaults.
package config

import (
	"time"

	"github.com/OGODEVO/studious-system/pkg/queue"
	"github.com/OGODEVO/studious-system/pkg/resilience"
	"github.com/OGODEVO/studious-system/pkg/scheduler"
)

// Config is the complete runtime configuration returned by Initialize.
type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	Memory     MemoryConfig     `yaml:"memory"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Queue      QueueConfig      `yaml:"queue"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Server     ServerConfig     `yaml:"server"`
	Skills     SkillsConfig     `yaml:"skills"`

	// APIKey is read from the environment, never from YAML.
	APIKey string `yaml:"-"`
}

// AgentConfig holds the LLM and agent-loop settings.
type AgentConfig struct {
	Model                string  `yaml:"model"`
	BaseURL              string  `yaml:"base_url"`
	Persona              string  `yaml:"persona"`
	Temperature          float32 `yaml:"temperature"`
	MaxTokens            int     `yaml:"max_tokens"`
	ContextWindow        int     `yaml:"context_window"`
	CompactionTokenRatio float64 `yaml:"compaction_token_ratio"`
	PlanningMode         string  `yaml:"planning_mode"`
}

// CompactionThreshold derives the absolute token threshold.
func (a AgentConfig) CompactionThreshold() int {
	return int(float64(a.ContextWindow) * a.CompactionTokenRatio)
}

// MemoryConfig holds the memory manager settings.
type MemoryConfig struct {
	Dir                string `yaml:"dir"`
	ExtractEveryNTurns int    `yaml:"extract_every_n_turns"`
	MaxRecentEpisodes  int    `yaml:"max_recent_episodes"`
}

// SchedulerConfig holds the scheduler settings.
type SchedulerConfig struct {
	TickSeconds int                  `yaml:"tick_seconds"`
	StateFile   string               `yaml:"state_file"`
	Heartbeat   scheduler.Heartbeat  `yaml:"heartbeat"`
	Reminders   []scheduler.Reminder `yaml:"reminders"`
}

// ToSchedulerConfig converts to the scheduler package's config.
func (s SchedulerConfig) ToSchedulerConfig() scheduler.Config {
	return scheduler.Config{
		TickSeconds: s.TickSeconds,
		StateFile:   s.StateFile,
		Reminders:   s.Reminders,
		Heartbeat:   s.Heartbeat,
	}
}

// QueueConfig holds the per-lane concurrency caps.
type QueueConfig struct {
	FastCap       int `yaml:"fast_cap"`
	SlowCap       int `yaml:"slow_cap"`
	BackgroundCap int `yaml:"background_cap"`
}

// ToCaps converts to the queue package's lane caps.
func (q QueueConfig) ToCaps() queue.LaneCaps {
	return queue.LaneCaps{
		Fast:       q.FastCap,
		Slow:       q.SlowCap,
		Background: q.BackgroundCap,
	}
}

// PolicyConfig is one resilient-executor policy in YAML shape.
type PolicyConfig struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	BaseDelayMs      int     `yaml:"base_delay_ms"`
	MaxDelayMs       int     `yaml:"max_delay_ms"`
	JitterRatio      float64 `yaml:"jitter_ratio"`
	FailureThreshold int     `yaml:"failure_threshold"`
	CooldownMs       int     `yaml:"cooldown_ms"`
}

// ToPolicy converts to the resilience package's policy.
func (p PolicyConfig) ToPolicy() resilience.Policy {
	return resilience.Policy{
		Retry: resilience.RetryPolicy{
			MaxAttempts: p.MaxAttempts,
			BaseDelay:   time.Duration(p.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(p.MaxDelayMs) * time.Millisecond,
			JitterRatio: p.JitterRatio,
		},
		CircuitBreaker: resilience.BreakerPolicy{
			FailureThreshold: p.FailureThreshold,
			Cooldown:         time.Duration(p.CooldownMs) * time.Millisecond,
		},
	}
}

// ResilienceConfig holds per-use-site executor policies.
type ResilienceConfig struct {
	Agent     PolicyConfig `yaml:"agent"`
	Scheduler PolicyConfig `yaml:"scheduler"`
	Memory    PolicyConfig `yaml:"memory"`
}

// ServerConfig holds the HTTP front-end settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	HistoryFile string `yaml:"history_file"`
}

// SkillsConfig holds the skill catalogue settings.
type SkillsConfig struct {
	Dir string `yaml:"dir"`
}

// defaults is the built-in configuration merged under user values.
func defaults() Config {
	return Config{
		Agent: AgentConfig{
			Model:                "gpt-4o",
			Temperature:          0.7,
			MaxTokens:            2048,
			ContextWindow:        128000,
			CompactionTokenRatio: 0.9,
			PlanningMode:         "auto",
		},
		Memory: MemoryConfig{
			Dir:                "./data/memory",
			ExtractEveryNTurns: 3,
			MaxRecentEpisodes:  3,
		},
		Scheduler: SchedulerConfig{
			TickSeconds: 30,
			StateFile:   "./data/state/scheduler.json",
			Heartbeat:   scheduler.Heartbeat{IntervalMinutes: 30},
		},
		Queue: QueueConfig{
			FastCap:       2,
			SlowCap:       1,
			BackgroundCap: 1,
		},
		Resilience: ResilienceConfig{
			Agent:     PolicyConfig{MaxAttempts: 3, BaseDelayMs: 500, MaxDelayMs: 8000, JitterRatio: 0.2, FailureThreshold: 4, CooldownMs: 30000},
			Scheduler: PolicyConfig{MaxAttempts: 2, BaseDelayMs: 1000, MaxDelayMs: 10000, JitterRatio: 0.2, FailureThreshold: 3, CooldownMs: 60000},
			Memory:    PolicyConfig{MaxAttempts: 2, BaseDelayMs: 500, MaxDelayMs: 4000, JitterRatio: 0.2, FailureThreshold: 3, CooldownMs: 30000},
		},
		Server: ServerConfig{
			Port:        8080,
			HistoryFile: "./data/state/session_history.json",
		},
		Skills: SkillsConfig{
			Dir: "./skills",
		},
	}
}
