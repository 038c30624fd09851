// Package trace persists full task traces. When a sub-agent finishes,
// its parent only sees a short summary; the complete record lands here
// under a reference ID so it can be pulled later without bloating the
// parent's context.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/skillrun/skillrun/internal/events"
)

// Trace is the persisted record of one task execution.
type Trace struct {
	ID         string         `json:"id"`
	Skill      string         `json:"skill"`
	TaskID     string         `json:"task_id"`
	Depth      int            `json:"depth"`
	Status     string         `json:"status"`
	Result     string         `json:"result"`
	Iterations int            `json:"iterations"`
	Events     []events.Event `json:"events"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Store writes and reads traces under one directory, one JSON file per
// trace.
type Store struct {
	dir string
}

// NewStore creates the trace directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating trace directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Save assigns the trace a reference ID if it has none and writes it
// out. Returns the reference ID.
func (s *Store) Save(tr *Trace) (string, error) {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}

	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding trace %s: %w", tr.ID, err)
	}

	path := filepath.Join(s.dir, tr.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing trace %s: %w", tr.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("writing trace %s: %w", tr.ID, err)
	}
	return tr.ID, nil
}

// Load reads a trace back by reference ID.
func (s *Store) Load(id string) (*Trace, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("loading trace %s: %w", id, err)
	}
	var tr Trace
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("decoding trace %s: %w", id, err)
	}
	return &tr, nil
}
