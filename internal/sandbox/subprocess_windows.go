//go:build windows

package sandbox

import "os/exec"

// Windows has no process groups or rlimits in this form; the wall-clock
// timeout and plain process kill are the only enforcement.
func configureProcessGroup(cmd *exec.Cmd) {}

func applyResourceLimits(cmd *exec.Cmd, policy Policy) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
