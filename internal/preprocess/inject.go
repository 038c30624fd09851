package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/skillrun/skillrun/internal/logging"
	"github.com/skillrun/skillrun/internal/skillfile"
)

// Injector expands inline command markers in skill text, running each
// command and splicing its output into the prompt. Every command passes
// the full screening stack before execution; a rejected command is
// replaced with a rejection marker and never reaches the shell.
type Injector struct {
	Whitelist  skillfile.Whitelist
	WorkingDir string
	Timeout    time.Duration
	OutputCap  int
	Log        *logging.Logger

	// runCommand is swapped in tests to avoid spawning processes.
	runCommand func(ctx context.Context, tokens []string, dir string) ([]byte, error)
}

// CommandResult records one inline command invocation.
type CommandResult struct {
	Raw      string
	Tokens   []string
	Output   string
	Rejected bool
	Reason   string
	TimedOut bool
	Duration time.Duration
}

// InjectionResult carries the expanded text plus a record of every
// command encountered, accepted or not.
type InjectionResult struct {
	Text     string
	Commands []CommandResult
	Elapsed  time.Duration
}

const (
	defaultCommandTimeout = 5 * time.Second
	defaultOutputCap      = 10000
)

// markerRe matches !`command` with the command body on a single line.
var markerRe = regexp.MustCompile("!`([^`\n]+)`")

// shellMeta lists metacharacter sequences that end the screening early.
// Tokenization would neutralize most of these anyway, but rejecting on
// sight keeps chained commands out of the audit log as "accepted". The
// backtick stays in the list even though the marker syntax cannot carry
// one: screen is a complete layer on its own, not a property of the
// marker regex.
var shellMeta = []string{";", "&&", "||", "|", ">", "<", "$(", "`", "\n", "\r"}

// Inject expands all command markers in text. Failures are recorded in
// place of output; Inject itself only errors on a nil receiver misuse,
// so it returns the result directly.
func (in *Injector) Inject(ctx context.Context, text string) InjectionResult {
	start := time.Now()
	result := InjectionResult{}

	result.Text = markerRe.ReplaceAllStringFunc(text, func(marker string) string {
		raw := markerRe.FindStringSubmatch(marker)[1]
		cr := in.runOne(ctx, raw)
		result.Commands = append(result.Commands, cr)
		if cr.Rejected {
			return fmt.Sprintf("[command rejected: %s]", cr.Reason)
		}
		return cr.Output
	})

	result.Elapsed = time.Since(start)
	return result
}

func (in *Injector) runOne(ctx context.Context, raw string) CommandResult {
	cr := CommandResult{Raw: raw}

	if reason := in.screen(&cr); reason != "" {
		cr.Rejected = true
		cr.Reason = reason
		if in.Log != nil {
			in.Log.SecurityReject(reason, raw, nil)
		}
		return cr
	}

	if in.Whitelist.Empty() && in.Log != nil {
		in.Log.SecurityWarning("inline command run without a whitelist", map[string]interface{}{
			"command": raw,
		})
	}

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	limit := in.OutputCap
	if limit <= 0 {
		limit = defaultOutputCap
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := in.runCommand
	if run == nil {
		run = execCommand
	}

	begin := time.Now()
	out, err := run(runCtx, cr.Tokens, in.WorkingDir)
	cr.Duration = time.Since(begin)

	if runCtx.Err() == context.DeadlineExceeded {
		cr.TimedOut = true
		cr.Output = "[command timed out]"
		return cr
	}
	if err != nil {
		cr.Output = fmt.Sprintf("[command failed: %v]", err)
		return cr
	}

	text := string(out)
	if len(text) > limit {
		text = text[:limit] + "\n[output truncated]"
	}
	cr.Output = strings.TrimRight(text, "\n")
	return cr
}

// screen runs the pre-execution checks in order and returns the first
// rejection reason, or "" when the command may run. On success
// cr.Tokens holds the parsed argv.
func (in *Injector) screen(cr *CommandResult) string {
	for _, meta := range shellMeta {
		if strings.Contains(cr.Raw, meta) {
			return fmt.Sprintf("shell metacharacter %q", meta)
		}
	}
	tokens, err := shellwords.Parse(cr.Raw)
	if err != nil {
		return fmt.Sprintf("unparseable command: %v", err)
	}
	if len(tokens) == 0 {
		return "empty command"
	}
	cr.Tokens = tokens

	head := tokens[0]
	if strings.Contains(head, "..") {
		return "path traversal in command name"
	}
	if strings.HasPrefix(head, "/") {
		return "absolute path in command name"
	}

	if !in.Whitelist.Empty() && !in.Whitelist.AllowsCommand(tokens) {
		return fmt.Sprintf("command %q not in allowed-tools", head)
	}
	return ""
}

func execCommand(ctx context.Context, tokens []string, dir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, tokens[0], tokens[1:]...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}
