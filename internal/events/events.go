// Package events carries execution progress out of the engine. Events
// flow through a non-blocking dispatcher to attached sinks; a slow sink
// loses events rather than stalling task execution.
package events

import "time"

// Type classifies an event.
type Type string

const (
	TypeStatus     Type = "status"     // lifecycle transitions
	TypeMessage    Type = "message"    // reasoning and tool output
	TypeError      Type = "error"      // recoverable and fatal failures
	TypeCompletion Type = "completion" // terminal result
)

// Visibility declares who may see an event.
type Visibility string

const (
	// VisibilityFull is detail intended for privileged consumers only.
	VisibilityFull Visibility = "full"
	// VisibilitySummary is safe for any consumer.
	VisibilitySummary Visibility = "summary"
	// VisibilityHidden never leaves the process.
	VisibilityHidden Visibility = "hidden"
)

// Role is the privilege level of a sink's consumer.
type Role string

const (
	// RoleOperator receives full and summary events.
	RoleOperator Role = "operator"
	// RoleObserver receives summary events only.
	RoleObserver Role = "observer"
)

// Event is one unit of execution progress.
type Event struct {
	Type       Type       `json:"type"`
	Text       string     `json:"text"`
	Visibility Visibility `json:"visibility"`
	TaskID     string     `json:"task_id,omitempty"`
	Skill      string     `json:"skill,omitempty"`
	Tool       string     `json:"tool,omitempty"`
	Iteration  int        `json:"iteration,omitempty"`
	Depth      int        `json:"depth,omitempty"`
	Fatal      bool       `json:"fatal,omitempty"`
	Time       time.Time  `json:"time"`
}

// VisibleTo applies the visibility policy for a consumer role.
func (e Event) VisibleTo(role Role) bool {
	switch e.Visibility {
	case VisibilityHidden:
		return false
	case VisibilityFull:
		return role == RoleOperator
	default:
		return true
	}
}
