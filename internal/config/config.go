// Package config provides platform configuration loading and the
// resolved per-task execution policy.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the platform-level configuration.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	LLM       LLMConfig       `toml:"llm"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Skills    SkillsConfig    `toml:"skills"`
	Events    EventsConfig    `toml:"events"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// EngineConfig contains execution loop defaults.
type EngineConfig struct {
	MaxIterations     int    `toml:"max_iterations"`       // default loop budget (1-100)
	MaxRetriesPerTool int    `toml:"max_retries_per_tool"` // per-fingerprint retry cap (0-10)
	IterationTimeout  string `toml:"iteration_timeout"`    // wraps each LLM call
	CommandTimeout    string `toml:"command_timeout"`      // inline command wall clock
	CommandOutputCap  int    `toml:"command_output_cap"`   // inline command output chars
	MaxDepth          int    `toml:"max_depth"`            // sub-agent recursion bound
	TransportRetries  int    `toml:"transport_retries"`    // backoff attempts on transport failure
}

// LLMConfig contains model defaults.
type LLMConfig struct {
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
}

// SandboxConfig contains script runner defaults.
type SandboxConfig struct {
	Isolation    string `toml:"isolation"`     // none, subprocess, container
	Timeout      string `toml:"timeout"`       // script wall clock
	MemoryMB     int    `toml:"memory_mb"`     // address space / container memory ceiling
	CPUSeconds   int    `toml:"cpu_seconds"`   // subprocess CPU-time ceiling
	CPUs         string `toml:"cpus"`          // container CPU quota (e.g. "1.0")
	AllowNetwork bool   `toml:"allow_network"` // container network access
	Image        string `toml:"image"`         // container image
}

// SkillsConfig contains skill discovery settings.
type SkillsConfig struct {
	Paths []string `toml:"paths"` // directories to search for skills
}

// EventsConfig contains event sink settings.
type EventsConfig struct {
	NATSURL     string `toml:"nats_url"`     // optional NATS sink
	NATSSubject string `toml:"nats_subject"` // subject prefix, default "skillrun.events"
	BufferSize  int    `toml:"buffer_size"`  // per-sink dispatch buffer
}

// TelemetryConfig contains tracing settings.
type TelemetryConfig struct {
	Enabled bool `toml:"enabled"`
	Debug   bool `toml:"debug"` // span events mirrored to the debug log
}

// New creates a new config with platform defaults.
func New() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxIterations:     20,
			MaxRetriesPerTool: 3,
			IterationTimeout:  "2m",
			CommandTimeout:    "5s",
			CommandOutputCap:  10000,
			MaxDepth:          2,
			TransportRetries:  3,
		},
		LLM: LLMConfig{
			Temperature: 0.2,
		},
		Sandbox: SandboxConfig{
			Isolation:  "subprocess",
			Timeout:    "60s",
			MemoryMB:   512,
			CPUSeconds: 30,
			CPUs:       "1.0",
			Image:      "debian:bookworm-slim",
		},
		Events: EventsConfig{
			NATSSubject: "skillrun.events",
			BufferSize:  256,
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file, over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies SKILLRUN_* environment overrides on top of the
// loaded values. Unset variables leave the config untouched.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SKILLRUN_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxIterations = n
		}
	}
	if v := os.Getenv("SKILLRUN_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxRetriesPerTool = n
		}
	}
	if v := os.Getenv("SKILLRUN_ITERATION_TIMEOUT"); v != "" {
		c.Engine.IterationTimeout = v
	}
	if v := os.Getenv("SKILLRUN_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxDepth = n
		}
	}
	if v := os.Getenv("SKILLRUN_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("SKILLRUN_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("SKILLRUN_SANDBOX_ISOLATION"); v != "" {
		c.Sandbox.Isolation = v
	}
}

// Validate checks platform values and reports specific, actionable errors.
func (c *Config) Validate() error {
	if c.Engine.MaxIterations < 1 || c.Engine.MaxIterations > 100 {
		return fmt.Errorf("engine.max_iterations is %d, must be between 1 and 100", c.Engine.MaxIterations)
	}
	if c.Engine.MaxRetriesPerTool < 0 || c.Engine.MaxRetriesPerTool > 10 {
		return fmt.Errorf("engine.max_retries_per_tool is %d, must be between 0 and 10", c.Engine.MaxRetriesPerTool)
	}
	if c.Engine.MaxDepth < 1 {
		return fmt.Errorf("engine.max_depth is %d, must be at least 1", c.Engine.MaxDepth)
	}
	if _, err := time.ParseDuration(c.Engine.IterationTimeout); err != nil {
		return fmt.Errorf("engine.iteration_timeout %q is not a valid duration (use forms like \"30s\", \"2m\"): %w", c.Engine.IterationTimeout, err)
	}
	if _, err := time.ParseDuration(c.Engine.CommandTimeout); err != nil {
		return fmt.Errorf("engine.command_timeout %q is not a valid duration (use forms like \"5s\", \"500ms\"): %w", c.Engine.CommandTimeout, err)
	}
	if _, err := time.ParseDuration(c.Sandbox.Timeout); err != nil {
		return fmt.Errorf("sandbox.timeout %q is not a valid duration (use forms like \"60s\", \"1m\"): %w", c.Sandbox.Timeout, err)
	}
	switch c.Sandbox.Isolation {
	case "none", "subprocess", "container":
	default:
		return fmt.Errorf("sandbox.isolation is %q, must be one of none, subprocess, container", c.Sandbox.Isolation)
	}
	return nil
}

// IterationTimeoutDuration returns the parsed iteration timeout.
// Validate must have accepted the config first.
func (c *Config) IterationTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Engine.IterationTimeout)
	return d
}

// CommandTimeoutDuration returns the parsed inline command timeout.
func (c *Config) CommandTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Engine.CommandTimeout)
	return d
}

// SandboxTimeoutDuration returns the parsed script timeout.
func (c *Config) SandboxTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Sandbox.Timeout)
	return d
}
