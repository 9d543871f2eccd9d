package config

import "time"

// DefaultConfig returns the configuration used when no config file is
// present. Every value passes validation.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Mode:        "concurrent",
			MaxParallel: 4,
			StepTimeout: 30 * time.Second,
		},
		Synthesis: SynthesisConfig{
			TokenBudget:   4096,
			CharsPerToken: 4,
		},
		Fetch: FetchConfig{
			RatePerSecond: 2,
			FanOut:        4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "planexec",
		},
		Events: EventsConfig{
			BufferSize: 64,
		},
	}
}
