package engine

import (
	"strings"
	"time"
)

// State is the engine's position in its lifecycle. The loop moves
// Idle → Iterating → (ToolDispatch|Reasoning) → Iterating … until a
// terminal state.
type State string

const (
	StateIdle         State = "idle"
	StateIterating    State = "iterating"
	StateToolDispatch State = "tool_dispatch"
	StateReasoning    State = "reasoning"

	// Terminal states.
	StateSuccess        State = "success"
	StatePartialSuccess State = "partial_success"
	StateFailed         State = "failed"
)

// Terminal reports whether the state ends the loop.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StatePartialSuccess || s == StateFailed
}

// Observation is the recorded outcome of one tool invocation or one
// failed step. Appended to the state log, never removed.
type Observation struct {
	Tool     string
	Args     map[string]interface{}
	Success  bool
	Output   string
	Error    string
	Duration time.Duration
}

// executionState is the mutable loop state, owned by exactly one
// engine instance for one task and discarded at termination.
type executionState struct {
	state        State
	iteration    int
	observations []Observation
	retries      map[string]int // approach fingerprint -> count
	loadedFiles  map[string]bool
	partials     []string
	errorCount   int
}

func newExecutionState() *executionState {
	return &executionState{
		state:       StateIdle,
		retries:     make(map[string]int),
		loadedFiles: make(map[string]bool),
	}
}

func (s *executionState) observe(obs Observation) {
	s.observations = append(s.observations, obs)
	if !obs.Success {
		s.errorCount++
	}
}

// addPartial keeps materially informative tool output for best-effort
// synthesis at budget exhaustion.
func (s *executionState) addPartial(output string) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return
	}
	s.partials = append(s.partials, trimmed)
}
