package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"
)

// containerEngine finds an available container runtime, preferring
// podman.
func containerEngine() (string, error) {
	for _, name := range []string{"podman", "docker"} {
		if _, err := exec.LookPath(name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no container engine found (tried podman, docker)")
}

// lookupEngine is swapped in tests.
var lookupEngine = containerEngine

// runContainer executes the script inside a throwaway container. The
// scripts directory is mounted read-only so the script cannot modify
// the skill; writes go to the workspace mount.
func runContainer(ctx context.Context, path string, args []string, policy Policy) ScriptResult {
	engine, err := lookupEngine()
	if err != nil {
		return failure(err.Error())
	}
	if policy.Image == "" {
		return failure("container isolation requested without an image")
	}

	scriptsDir := filepath.Dir(path)
	inside := "/skill/scripts/" + filepath.Base(path)

	runArgs := []string{
		"run", "--rm",
		"-v", scriptsDir + ":/skill/scripts:ro",
		"-w", "/workspace",
	}
	if policy.WorkspaceDir != "" {
		runArgs = append(runArgs, "-v", policy.WorkspaceDir+":/workspace")
	}
	if policy.MemoryMB > 0 {
		runArgs = append(runArgs, "--memory", fmt.Sprintf("%dm", policy.MemoryMB))
	}
	if policy.CPUs != "" {
		runArgs = append(runArgs, "--cpus", policy.CPUs)
	}
	if !policy.AllowNetwork {
		runArgs = append(runArgs, "--network", "none")
	}
	for k, v := range policy.Env {
		runArgs = append(runArgs, "-e", k+"="+v)
	}
	runArgs = append(runArgs, policy.Image, inside)
	runArgs = append(runArgs, args...)

	runCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, engine, runArgs...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err = cmd.Run()

	res := ScriptResult{
		Output:   buf.String(),
		Duration: time.Since(start),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Reason = err.Error()
		}
		return res
	}

	res.Success = true
	return res
}
