// Package sandbox runs skill scripts under resource and filesystem
// containment. A script failure of any kind, including the sandbox
// itself being unavailable, comes back as a failed ScriptResult so the
// reasoning loop can observe it and adapt. Nothing here aborts a task.
package sandbox

import (
	"time"
)

// Policy bounds one script execution.
type Policy struct {
	Isolation    string // none, subprocess, container
	Timeout      time.Duration
	MemoryMB     int
	CPUSeconds   int
	CPUs         string // container CPU quota, e.g. "1.0"
	AllowNetwork bool
	Image        string
	WorkspaceDir string            // scratch dir the script may write to
	Env          map[string]string // extras on top of the sanitized base
}

// ScriptResult is the complete observable outcome of a script run.
type ScriptResult struct {
	Success  bool
	Output   string
	ExitCode int
	TimedOut bool
	Duration time.Duration

	// Reason is set when the script never ran (containment rejection,
	// missing engine, bad policy). Empty for scripts that executed.
	Reason string
}

const (
	// IsolationNone executes directly with a sanitized environment but
	// no resource limits.
	IsolationNone = "none"
	// IsolationSubprocess adds address-space and CPU rlimits plus
	// process-group kill on timeout.
	IsolationSubprocess = "subprocess"
	// IsolationContainer executes inside a docker or podman container
	// with the skill directory mounted read-only.
	IsolationContainer = "container"
)

// failure builds a ScriptResult for a script that never executed.
func failure(reason string) ScriptResult {
	return ScriptResult{Success: false, ExitCode: -1, Reason: reason}
}
