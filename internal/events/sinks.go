package events

import (
	"sync"

	"github.com/skillrun/skillrun/internal/logging"
)

// Collector is an in-memory sink for tests and for the orchestrator's
// child-trace capture.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *Collector) Close() error { return nil }

// Events returns a copy of everything collected so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// LogSink writes each event through the structured logger.
type LogSink struct {
	Log *logging.Logger
}

func (s *LogSink) Emit(ev Event) {
	fields := map[string]interface{}{
		"event_type": string(ev.Type),
		"visibility": string(ev.Visibility),
	}
	if ev.Skill != "" {
		fields["skill"] = ev.Skill
	}
	if ev.Tool != "" {
		fields["tool"] = ev.Tool
	}
	if ev.Iteration > 0 {
		fields["iteration"] = ev.Iteration
	}
	if ev.Depth > 0 {
		fields["depth"] = ev.Depth
	}

	switch ev.Type {
	case TypeError:
		s.Log.Error(ev.Text, fields)
	default:
		s.Log.Info(ev.Text, fields)
	}
}

func (s *LogSink) Close() error { return nil }
