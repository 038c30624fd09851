package sandbox

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"time"
)

// runSubprocess executes the script directly. With limits enabled the
// platform file applies resource ceilings and a process-group kill;
// without them the script still only sees the sanitized environment.
func runSubprocess(ctx context.Context, path string, args []string, policy Policy, limits bool) ScriptResult {
	runCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.Env = sanitizedEnv(policy)
	if policy.WorkspaceDir != "" {
		cmd.Dir = policy.WorkspaceDir
	} else {
		cmd.Dir = filepath.Dir(path)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if limits {
		configureProcessGroup(cmd)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return failure("failed to start script: " + err.Error())
	}

	if limits {
		applyResourceLimits(cmd, policy)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		if limits {
			killProcessGroup(cmd)
		} else {
			_ = cmd.Process.Kill()
		}
		waitErr = <-done
	}

	res := ScriptResult{
		Output:   buf.String(),
		Duration: time.Since(start),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Reason = waitErr.Error()
		}
		return res
	}

	res.Success = true
	return res
}
