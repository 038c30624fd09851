package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/skillrun/skillrun/internal/config"
	"github.com/skillrun/skillrun/internal/llm"
	"github.com/skillrun/skillrun/internal/preprocess"
	"github.com/skillrun/skillrun/internal/tools"
)

func testConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		MaxIterations:     5,
		MaxRetriesPerTool: 2,
		IterationTimeout:  5 * time.Second,
		CommandOutputCap:  10000,
		RecoveryEnabled:   true,
		TransportRetries:  1,
		Model:             "test-model",
	}
}

func echoTool() tools.Invoker {
	return tools.Func{
		ToolName: "echo",
		Desc:     "echoes its text argument",
		Fn: func(ctx context.Context, args tools.Args) tools.Result {
			return tools.Result{Output: "echo: " + args.String("text")}
		},
	}
}

func failingTool(msg string) tools.Invoker {
	return tools.Func{
		ToolName: "flaky",
		Desc:     "always fails",
		Fn: func(ctx context.Context, args tools.Args) tools.Result {
			return tools.Result{Err: fmt.Errorf("%s", msg)}
		},
	}
}

func newTestEngine(t *testing.T, provider llm.Provider, cfg config.ExecutionConfig, invokers ...tools.Invoker) *Engine {
	t.Helper()
	if len(invokers) == 0 {
		invokers = []tools.Invoker{echoTool()}
	}
	reg, err := tools.NewRegistry(invokers...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return &Engine{
		Provider: provider,
		Registry: reg,
		Config:   cfg,
		TaskID:   "task-test",
		Skill:    "test-skill",
	}
}

func actionDirective(tool, text string) string {
	return fmt.Sprintf(`{"thought": "using %s", "action": {"tool": "%s", "args": {"text": "%s"}}}`, tool, tool, text)
}

func finalDirective(answer string) string {
	return fmt.Sprintf(`{"final": "%s"}`, answer)
}

// A final answer on iteration k makes exactly k model calls and ends in
// the success state.
func TestRun_FinalOnIterationK(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.QueueResponse(actionDirective("echo", "one"))
	mock.QueueResponse(actionDirective("echo", "two"))
	mock.QueueResponse(finalDirective("all done"))

	e := newTestEngine(t, mock, testConfig())
	res := e.Run(context.Background(), Input{Instructions: "do the thing"})

	if res.State != StateSuccess {
		t.Fatalf("state wrong. expected=%s, got=%s", StateSuccess, res.State)
	}
	if res.Answer != "all done" {
		t.Errorf("answer wrong: %q", res.Answer)
	}
	if res.LLMCalls != 3 || mock.CallCount() != 3 {
		t.Errorf("expected 3 model calls, got result=%d mock=%d", res.LLMCalls, mock.CallCount())
	}
	if res.Iterations != 3 {
		t.Errorf("iterations wrong: %d", res.Iterations)
	}
}

// Without a final answer the loop stops at the budget with exactly
// max-iterations model calls, surfacing partial results.
func TestRun_BudgetExhaustedWithPartials(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse(actionDirective("echo", "data"))

	cfg := testConfig()
	cfg.MaxIterations = 4
	e := newTestEngine(t, mock, cfg)
	res := e.Run(context.Background(), Input{Instructions: "never finish"})

	if res.State != StatePartialSuccess {
		t.Fatalf("state wrong. expected=%s, got=%s", StatePartialSuccess, res.State)
	}
	if mock.CallCount() != 4 {
		t.Errorf("expected 4 model calls, got %d", mock.CallCount())
	}
	if len(res.Partials) == 0 {
		t.Errorf("partial results missing")
	}
	if !strings.Contains(res.Answer, "Partial results") {
		t.Errorf("answer should carry partials: %q", res.Answer)
	}
}

// With no successful tool call the exhausted loop reports explicit
// non-completion with the error count.
func TestRun_BudgetExhaustedWithoutPartials(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse(actionDirective("flaky", "x"))

	cfg := testConfig()
	cfg.MaxIterations = 3
	e := newTestEngine(t, mock, cfg, failingTool("disk on fire"))
	res := e.Run(context.Background(), Input{Instructions: "doomed"})

	if res.State != StateFailed {
		t.Fatalf("state wrong. expected=%s, got=%s", StateFailed, res.State)
	}
	if !strings.Contains(res.Answer, "3 iterations") || !strings.Contains(res.Answer, "errors") {
		t.Errorf("failure answer wrong: %q", res.Answer)
	}
	if res.Errors != 3 {
		t.Errorf("error count wrong: %d", res.Errors)
	}
}

// A malformed response is a no-action iteration: it burns budget and
// triggers a re-prompt, then the loop continues.
func TestRun_MalformedResponseReprompts(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.QueueResponse("I think I should look at the file first.")
	mock.QueueResponse(finalDirective("ok"))

	e := newTestEngine(t, mock, testConfig())
	res := e.Run(context.Background(), Input{Instructions: "go"})

	if res.State != StateSuccess {
		t.Fatalf("state wrong: %s", res.State)
	}
	if res.Iterations != 2 {
		t.Errorf("malformed response not counted against budget: %d", res.Iterations)
	}

	second := mock.Requests()[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Content, "not a valid directive") {
		t.Errorf("re-prompt missing, got %q", last.Content)
	}
}

// With early termination enabled, plain prose with no JSON at all is
// accepted as the final answer.
func TestRun_EarlyTerminationAcceptsProse(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse("The report is ready: everything passed.")

	cfg := testConfig()
	cfg.EarlyTermination = true
	e := newTestEngine(t, mock, cfg)
	res := e.Run(context.Background(), Input{Instructions: "go"})

	if res.State != StateSuccess {
		t.Fatalf("state wrong: %s", res.State)
	}
	if res.Answer != "The report is ready: everything passed." {
		t.Errorf("answer wrong: %q", res.Answer)
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected 1 model call, got %d", mock.CallCount())
	}
}

// The retry counter for one failing approach never passes the limit,
// and past the limit the guidance switches from retry to abandonment.
func TestRun_RetryGuidanceThenAbandonment(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse(actionDirective("flaky", "x"))

	cfg := testConfig()
	cfg.MaxIterations = 6
	cfg.MaxRetriesPerTool = 2
	e := newTestEngine(t, mock, cfg, failingTool("connection refused to host 10.0.0.5"))
	e.Run(context.Background(), Input{Instructions: "go"})

	var observations []string
	for _, req := range mock.Requests() {
		last := req.Messages[len(req.Messages)-1]
		if strings.HasPrefix(last.Content, "Observation: ") {
			observations = append(observations, last.Content)
		}
	}
	if len(observations) != 5 {
		t.Fatalf("expected 5 failure observations, got %d", len(observations))
	}

	for i, obs := range observations {
		wantRetry := i < 2
		isRetry := strings.Contains(obs, "Retry this tool")
		isAbandon := strings.Contains(obs, "abandon it")
		if wantRetry && !isRetry {
			t.Errorf("observation %d should be retry guidance: %q", i, obs)
		}
		if !wantRetry && !isAbandon {
			t.Errorf("observation %d should be abandonment guidance: %q", i, obs)
		}
		if isRetry && isAbandon {
			t.Errorf("observation %d is both: %q", i, obs)
		}
	}
}

// Error signatures that differ only in numbers and paths share one
// fingerprint.
func TestFingerprint_Normalization(t *testing.T) {
	a := fingerprint("bash", "open /tmp/work-1234/out.txt: permission denied (pid 4411)")
	b := fingerprint("bash", "open /tmp/work-9921/out.txt: permission denied (pid 77)")
	if a != b {
		t.Errorf("fingerprints differ:\n%s\n%s", a, b)
	}

	c := fingerprint("bash", "no such file or directory")
	if a == c {
		t.Errorf("distinct errors collapsed into one fingerprint")
	}
	if fingerprint("bash", "x") == fingerprint("curl", "x") {
		t.Errorf("tool name not part of fingerprint")
	}
}

// Repeated transport failure on the same fingerprint aborts the task
// after the retry allowance instead of spinning forever.
func TestRun_TransportFailureEscalates(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.RespondFunc = func(call int, req llm.Request) (*llm.Response, error) {
		return nil, fmt.Errorf("connection reset")
	}

	cfg := testConfig()
	cfg.MaxRetriesPerTool = 1
	cfg.TransportRetries = 2
	e := newTestEngine(t, mock, cfg)
	res := e.Run(context.Background(), Input{Instructions: "go"})

	if res.State != StateFailed {
		t.Fatalf("state wrong: %s", res.State)
	}
	if !strings.Contains(res.Answer, "model unreachable") {
		t.Errorf("answer wrong: %q", res.Answer)
	}
	if res.Iterations >= cfg.MaxIterations {
		t.Errorf("escalation should stop the loop early, ran %d iterations", res.Iterations)
	}
}

// An action naming an unregistered tool is a recoverable failure
// observation, not an abort.
func TestRun_UnknownToolObserved(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.QueueResponse(actionDirective("rocket_launcher", "x"))
	mock.QueueResponse(finalDirective("done without it"))

	e := newTestEngine(t, mock, testConfig())
	res := e.Run(context.Background(), Input{Instructions: "go"})

	if res.State != StateSuccess {
		t.Fatalf("state wrong: %s", res.State)
	}
	if len(res.Observations) != 1 || res.Observations[0].Success {
		t.Fatalf("unknown tool should record a failed observation: %+v", res.Observations)
	}
	if !strings.Contains(res.Observations[0].Error, "unknown tool") {
		t.Errorf("observation error wrong: %q", res.Observations[0].Error)
	}
}

// The resolved model rides every request unchanged.
func TestRun_ModelPassedThrough(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse(finalDirective("ok"))

	cfg := testConfig()
	cfg.Model = "experimental-model-vNext"
	e := newTestEngine(t, mock, cfg)
	e.Run(context.Background(), Input{Instructions: "go"})

	if got := mock.LastRequest().Model; got != "experimental-model-vNext" {
		t.Errorf("model wrong: %q", got)
	}
}

// The system prompt advertises the visible tool catalogue and the
// budget position.
func TestRun_SystemPromptContents(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse(finalDirective("ok"))

	e := newTestEngine(t, mock, testConfig())
	e.Run(context.Background(), Input{Instructions: "go"})

	sys := mock.LastRequest().System
	if !strings.Contains(sys, "echo: echoes its text argument") {
		t.Errorf("tool catalogue missing: %q", sys)
	}
	if !strings.Contains(sys, "Iteration 1 of 5") {
		t.Errorf("budget position missing: %q", sys)
	}
}

// Only a read tool drops a supporting file from the unloaded
// catalogue; a write naming the same path leaves it listed.
func TestRun_OnlyReadToolMarksFileLoaded(t *testing.T) {
	fileTool := func(name string) tools.Invoker {
		return tools.Func{
			ToolName: name,
			Desc:     name + " a file",
			Fn: func(ctx context.Context, args tools.Args) tools.Result {
				return tools.Result{Output: "ok: " + args.String("path")}
			},
		}
	}
	pathDirective := func(tool string) string {
		return fmt.Sprintf(`{"thought": "t", "action": {"tool": "%s", "args": {"path": "reference.md"}}}`, tool)
	}

	mock := llm.NewMockProvider()
	mock.QueueResponse(pathDirective("write_file"))
	mock.QueueResponse(pathDirective("read_file"))
	mock.QueueResponse(finalDirective("done"))

	e := newTestEngine(t, mock, testConfig(), fileTool("write_file"), fileTool("read_file"))
	files := preprocess.FileIndex{
		"reference.md": &preprocess.FileRef{Name: "reference.md", Path: "/skills/x/reference.md"},
	}
	res := e.Run(context.Background(), Input{Instructions: "go", Files: files})

	if res.State != StateSuccess {
		t.Fatalf("state wrong: %s", res.State)
	}

	reqs := mock.Requests()
	// After the write the file is still advertised as unloaded.
	if !strings.Contains(reqs[1].System, "reference.md") {
		t.Errorf("write dropped the file from the catalogue: %q", reqs[1].System)
	}
	// After the read it is gone.
	if strings.Contains(reqs[2].System, "reference.md") {
		t.Errorf("read did not mark the file loaded: %q", reqs[2].System)
	}
}

func TestDirective_Parsing(t *testing.T) {
	d, err := parseDirective("Sure, here you go:\n```json\n" + actionDirective("echo", "hi") + "\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Action == nil || d.Action.Tool != "echo" {
		t.Errorf("action wrong: %+v", d)
	}

	f, err := parseDirective(finalDirective("done"))
	if err != nil {
		t.Fatalf("parse final: %v", err)
	}
	if !f.IsFinal() || f.Final != "done" {
		t.Errorf("final wrong: %+v", f)
	}

	for _, bad := range []string{"", "no json here", `{"thought": "only thinking"}`, `{"broken": `} {
		if _, err := parseDirective(bad); err == nil {
			t.Errorf("malformed directive accepted: %q", bad)
		}
	}
}

func TestExtractJSON_BracesInsideStrings(t *testing.T) {
	content := `prefix {"final": "use {curly} braces"} suffix`
	got := extractJSON(content)
	if got != `{"final": "use {curly} braces"}` {
		t.Errorf("extraction wrong: %q", got)
	}
}
