package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planexec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, NewValidator().Validate(DefaultConfig()))
}

func TestLoader_ReadsFullConfig(t *testing.T) {
	path := writeConfigFile(t, `
engine:
  mode: sequential
  max_parallel: 1
  step_timeout: 45s
synthesis:
  token_budget: 2000
  chars_per_token: 3
fetch:
  rate_per_second: 5
  fan_out: 8
logging:
  level: debug
  format: json
events:
  buffer_size: 128
`)

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sequential", cfg.Engine.Mode)
	assert.Equal(t, 1, cfg.Engine.MaxParallel)
	assert.Equal(t, 45*time.Second, cfg.Engine.StepTimeout)
	assert.Equal(t, 2000, cfg.Synthesis.TokenBudget)
	assert.Equal(t, 3, cfg.Synthesis.CharsPerToken)
	assert.Equal(t, 5.0, cfg.Fetch.RatePerSecond)
	assert.Equal(t, 8, cfg.Fetch.FanOut)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 128, cfg.Events.BufferSize)
}

func TestLoader_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfigFile(t, `
engine:
  max_parallel: 8
`)

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.MaxParallel)
	assert.Equal(t, "concurrent", cfg.Engine.Mode, "unset keys fall back to defaults")
	assert.Equal(t, 30*time.Second, cfg.Engine.StepTimeout)
	assert.Equal(t, 4096, cfg.Synthesis.TokenBudget)
}

func TestLoader_InterpolatesEnvVars(t *testing.T) {
	t.Setenv("PLANEXEC_TEST_LEVEL", "warn")

	path := writeConfigFile(t, `
logging:
  level: ${PLANEXEC_TEST_LEVEL}
`)

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoader_UnsetEnvVarFailsValidation(t *testing.T) {
	// The reference stays literal when the variable is unset, which then
	// fails the oneof check.
	path := writeConfigFile(t, `
logging:
  level: ${PLANEXEC_DEFINITELY_UNSET_VAR}
`)

	_, err := NewLoader().Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoader_MissingFileErrors(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoader_LoadWithDefaults(t *testing.T) {
	cfg, err := NewLoader().LoadWithDefaults(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = NewLoader().LoadWithDefaults("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidator_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "bad mode",
			mutate:  func(c *Config) { c.Engine.Mode = "parallel" },
			wantMsg: "engine.mode",
		},
		{
			name:    "zero max_parallel",
			mutate:  func(c *Config) { c.Engine.MaxParallel = 0 },
			wantMsg: "engine.max_parallel",
		},
		{
			name:    "zero token budget",
			mutate:  func(c *Config) { c.Synthesis.TokenBudget = 0 },
			wantMsg: "synthesis.token_budget",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantMsg: "logging.format",
		},
		{
			name:    "tracing enabled without endpoint",
			mutate:  func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Endpoint = "" },
			wantMsg: "tracing.endpoint",
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := v.Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidator_NilConfig(t *testing.T) {
	require.Error(t, NewValidator().Validate(nil))
}
