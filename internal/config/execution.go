package config

import (
	"fmt"
	"time"
)

// ExecutionConfig is the resolved, immutable policy for one task.
// Built once by merging platform defaults with skill overrides; the
// engine never mutates it.
type ExecutionConfig struct {
	MaxIterations     int
	MaxRetriesPerTool int
	IterationTimeout  time.Duration
	CommandTimeout    time.Duration
	CommandOutputCap  int
	EarlyTermination  bool
	RecoveryEnabled   bool
	TransportRetries  int
	Model             string
	Temperature       float64
}

// Overrides carries per-skill policy overrides. Nil fields fall back to
// platform defaults.
type Overrides struct {
	MaxIterations     *int
	MaxRetriesPerTool *int
	IterationTimeout  *time.Duration
	EarlyTermination  *bool
	Model             string
}

// Resolve merges platform defaults with skill overrides and enforces
// the policy bounds. Every violation names the offending field and the
// acceptable range.
func (c *Config) Resolve(ov Overrides) (ExecutionConfig, error) {
	ec := ExecutionConfig{
		MaxIterations:     c.Engine.MaxIterations,
		MaxRetriesPerTool: c.Engine.MaxRetriesPerTool,
		IterationTimeout:  c.IterationTimeoutDuration(),
		CommandTimeout:    c.CommandTimeoutDuration(),
		CommandOutputCap:  c.Engine.CommandOutputCap,
		RecoveryEnabled:   true,
		TransportRetries:  c.Engine.TransportRetries,
		Model:             c.LLM.Model,
		Temperature:       c.LLM.Temperature,
	}

	if ov.MaxIterations != nil {
		if *ov.MaxIterations < 1 || *ov.MaxIterations > 100 {
			return ExecutionConfig{}, fmt.Errorf("max-iterations is %d, must be between 1 and 100", *ov.MaxIterations)
		}
		ec.MaxIterations = *ov.MaxIterations
	}
	if ov.MaxRetriesPerTool != nil {
		if *ov.MaxRetriesPerTool < 0 || *ov.MaxRetriesPerTool > 10 {
			return ExecutionConfig{}, fmt.Errorf("max-retries-per-tool is %d, must be between 0 and 10", *ov.MaxRetriesPerTool)
		}
		ec.MaxRetriesPerTool = *ov.MaxRetriesPerTool
	}
	if ov.IterationTimeout != nil {
		if *ov.IterationTimeout <= 0 {
			return ExecutionConfig{}, fmt.Errorf("iteration-timeout is %s, must be positive", *ov.IterationTimeout)
		}
		ec.IterationTimeout = *ov.IterationTimeout
	}
	if ov.EarlyTermination != nil {
		ec.EarlyTermination = *ov.EarlyTermination
	}
	// Model resolution: skill hint over platform default. Unrecognized
	// values pass through unchanged for forward compatibility.
	if ov.Model != "" {
		ec.Model = ov.Model
	}

	return ec, nil
}

// HalveForDepth returns a reduced configuration for a child sub-agent
// at the given depth: the iteration budget is halved once per depth
// level with a floor of 3. Everything else is inherited.
func (ec ExecutionConfig) HalveForDepth(depth int) ExecutionConfig {
	child := ec
	for i := 0; i < depth; i++ {
		child.MaxIterations /= 2
	}
	if child.MaxIterations < 3 {
		child.MaxIterations = 3
	}
	return child
}
