package config

import "time"

// Config is the root engine configuration, loaded from YAML with
// environment variable interpolation.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Synthesis SynthesisConfig `mapstructure:"synthesis" yaml:"synthesis"`
	Fetch     FetchConfig     `mapstructure:"fetch" yaml:"fetch"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
}

// EngineConfig controls the scheduler.
type EngineConfig struct {
	// Mode selects the concurrency policy: sequential or concurrent.
	Mode string `mapstructure:"mode" yaml:"mode" validate:"oneof=sequential concurrent"`

	// MaxParallel bounds simultaneous step execution in concurrent mode.
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel" validate:"min=1,max=64"`

	// StepTimeout is the default per-step timeout for steps that do not
	// declare their own.
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout" validate:"min=1ms"`
}

// SynthesisConfig controls the result aggregation stage.
type SynthesisConfig struct {
	// TokenBudget caps the synthesized content size in estimated tokens.
	TokenBudget int `mapstructure:"token_budget" yaml:"token_budget" validate:"min=1"`

	// CharsPerToken tunes the heuristic token estimator.
	CharsPerToken int `mapstructure:"chars_per_token" yaml:"chars_per_token" validate:"min=1,max=16"`
}

// FetchConfig controls the read_url handler.
type FetchConfig struct {
	// RatePerSecond limits outbound fetches per second.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second" validate:"gt=0"`

	// FanOut bounds concurrent fetches within a single read_url step.
	FanOut int `mapstructure:"fan_out" yaml:"fan_out" validate:"min=1,max=32"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
}

// EventsConfig controls the run event bus.
type EventsConfig struct {
	// BufferSize is the default subscriber channel buffer.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" validate:"min=1,max=65536"`
}
