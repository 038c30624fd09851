package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skillrun/skillrun/internal/logging"
)

// Runner executes scripts belonging to one skill. Scripts must live
// under the skill's scripts directory; symlinks are resolved before the
// check so a link pointing outside cannot smuggle a foreign executable
// in.
type Runner struct {
	SkillDir string
	Log      *logging.Logger
}

// NewRunner returns a runner bound to a skill directory.
func NewRunner(skillDir string, log *logging.Logger) *Runner {
	return &Runner{SkillDir: skillDir, Log: log}
}

// Run executes script (a name or relative path under scripts/) with the
// given arguments under policy. The returned result is always usable;
// inspect Success and Reason rather than an error.
func (r *Runner) Run(ctx context.Context, script string, args []string, policy Policy) ScriptResult {
	path, reason := r.containedPath(script)
	if reason != "" {
		if r.Log != nil {
			r.Log.SecurityReject(reason, script, map[string]interface{}{
				"skill_dir": r.SkillDir,
			})
		}
		return failure(reason)
	}

	if policy.Timeout <= 0 {
		policy.Timeout = 60 * time.Second
	}

	var res ScriptResult
	switch policy.Isolation {
	case IsolationContainer:
		res = runContainer(ctx, path, args, policy)
	case IsolationSubprocess, "":
		res = runSubprocess(ctx, path, args, policy, true)
	case IsolationNone:
		res = runSubprocess(ctx, path, args, policy, false)
	default:
		res = failure(fmt.Sprintf("unknown isolation tier %q", policy.Isolation))
	}

	if r.Log != nil {
		r.Log.ScriptResult(script, res.ExitCode, res.Duration)
	}
	return res
}

// containedPath resolves the script inside <skill>/scripts/ and returns
// the absolute path, or a rejection reason.
func (r *Runner) containedPath(script string) (string, string) {
	if script == "" {
		return "", "empty script name"
	}
	if filepath.IsAbs(script) {
		return "", "absolute script path"
	}

	root := filepath.Join(r.SkillDir, "scripts")
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Sprintf("scripts directory unavailable: %v", err)
	}

	candidate := filepath.Join(root, script)
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Sprintf("script %q not found", script)
		}
		return "", fmt.Sprintf("script %q unresolvable: %v", script, err)
	}

	if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		return "", fmt.Sprintf("script %q resolves outside the scripts directory", script)
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return "", fmt.Sprintf("script %q is not a regular file", script)
	}
	return resolved, ""
}

// sanitizedEnv builds the minimal environment scripts receive: PATH,
// HOME and TMPDIR from the host plus policy extras. Everything else,
// credentials included, stays behind.
func sanitizedEnv(policy Policy) []string {
	env := make([]string, 0, 3+len(policy.Env))
	for _, key := range []string{"PATH", "HOME", "TMPDIR"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	for k, v := range policy.Env {
		env = append(env, k+"="+v)
	}
	return env
}
