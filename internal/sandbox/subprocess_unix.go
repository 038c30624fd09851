//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcessGroup puts the script in its own process group so a
// timeout kill reaches children the script may have spawned.
func configureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// applyResourceLimits caps the running script's address space and CPU
// time. The limits land just after Start; a script racing to allocate
// before they apply still hits the wall-clock timeout.
func applyResourceLimits(cmd *exec.Cmd, policy Policy) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid

	if policy.MemoryMB > 0 {
		limit := uint64(policy.MemoryMB) * 1024 * 1024
		rlim := unix.Rlimit{Cur: limit, Max: limit}
		_ = unix.Prlimit(pid, unix.RLIMIT_AS, &rlim, nil)
	}
	if policy.CPUSeconds > 0 {
		limit := uint64(policy.CPUSeconds)
		rlim := unix.Rlimit{Cur: limit, Max: limit}
		_ = unix.Prlimit(pid, unix.RLIMIT_CPU, &rlim, nil)
	}
}

// killProcessGroup delivers SIGKILL to the script's whole process
// group.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil || pgid <= 0 {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
