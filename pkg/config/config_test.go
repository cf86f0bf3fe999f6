package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInitializeAppliesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Initialize(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Agent.Model)
	assert.Equal(t, 128000, cfg.Agent.ContextWindow)
	assert.Equal(t, 115200, cfg.Agent.CompactionThreshold())
	assert.Equal(t, "auto", cfg.Agent.PlanningMode)
	assert.Equal(t, 30, cfg.Scheduler.TickSeconds)
	assert.Equal(t, 2, cfg.Queue.FastCap)
	assert.Equal(t, 3, cfg.Resilience.Agent.MaxAttempts)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.APIKey)
}

func TestInitializeMergesUserValues(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	path := writeConfig(t, `
agent:
  model: gpt-4o-mini
  context_window: 16000
scheduler:
  tick_seconds: 5
  reminders:
    - id: digest
      prompt: "write the daily digest"
      interval_minutes: 1440
      lane: slow
      enabled: true
unknown_section:
  ignored: true
`)

	cfg, err := Initialize(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.Agent.Model)
	assert.Equal(t, 16000, cfg.Agent.ContextWindow)
	// Defaults still fill everything the file omits.
	assert.InDelta(t, 0.7, cfg.Agent.Temperature, 0.001)
	assert.Equal(t, 5, cfg.Scheduler.TickSeconds)
	require.Len(t, cfg.Scheduler.Reminders, 1)
	assert.Equal(t, "digest", cfg.Scheduler.Reminders[0].ID)
	assert.Equal(t, 1440, cfg.Scheduler.Reminders[0].IntervalMinutes)
}

func TestInitializeExpandsEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AGENT_PERSONA", "You are a terse operations bot.")
	path := writeConfig(t, `
agent:
  persona: "{{.AGENT_PERSONA}}"
`)

	cfg, err := Initialize(path)
	require.NoError(t, err)
	assert.Equal(t, "You are a terse operations bot.", cfg.Agent.Persona)
}

func TestInitializeRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Initialize(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestInitializeRejectsInvalidValues(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	path := writeConfig(t, "agent:\n  planning_mode: warp\n")
	_, err := Initialize(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planning_mode")

	path = writeConfig(t, "agent:\n  compaction_token_ratio: 1.5\n")
	_, err = Initialize(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compaction_token_ratio")

	path = writeConfig(t, "server:\n  port: 99999\n")
	_, err = Initialize(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestPolicyConversion(t *testing.T) {
	p := PolicyConfig{MaxAttempts: 3, BaseDelayMs: 100, MaxDelayMs: 1000, JitterRatio: 0.2, FailureThreshold: 2, CooldownMs: 5000}
	policy := p.ToPolicy()
	assert.Equal(t, 3, policy.Retry.MaxAttempts)
	assert.Equal(t, "100ms", policy.Retry.BaseDelay.String())
	assert.Equal(t, "5s", policy.CircuitBreaker.Cooldown.String())
}

func TestExpandEnvLeavesPlainContentAlone(t *testing.T) {
	in := []byte("agent:\n  persona: \"price $100 and ${literal}\"\n")
	assert.Equal(t, in, ExpandEnv(in))
}
