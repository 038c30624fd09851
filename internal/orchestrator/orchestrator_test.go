package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skillrun/skillrun/internal/config"
	"github.com/skillrun/skillrun/internal/engine"
	"github.com/skillrun/skillrun/internal/llm"
	"github.com/skillrun/skillrun/internal/tools"
	"github.com/skillrun/skillrun/internal/trace"
)

// writeSkill lays out a skill directory named after the skill.
func writeSkill(t *testing.T, root, name, frontmatterExtra, body string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := fmt.Sprintf("---\nname: %s\ndescription: test skill\n%s---\n%s\n", name, frontmatterExtra, body)
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("write SKILL.md: %v", err)
	}
	return dir
}

func newOrchestrator(t *testing.T, provider llm.Provider) *Orchestrator {
	t.Helper()
	store, err := trace.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("trace store: %v", err)
	}
	return &Orchestrator{
		Provider: provider,
		Tools: []tools.Invoker{tools.Func{
			ToolName: "echo",
			Desc:     "echoes its text argument",
			Fn: func(ctx context.Context, args tools.Args) tools.Result {
				return tools.Result{Output: "echo: " + args.String("text")}
			},
		}},
		Config:     config.New(),
		Traces:     store,
		WorkingDir: t.TempDir(),
		User:       "tester",
	}
}

func finalResponse(answer string) string {
	return fmt.Sprintf(`{"final": "%s"}`, answer)
}

func TestExecute_AutonomousDefault(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse(finalResponse("processed"))

	o := newOrchestrator(t, mock)
	dir := writeSkill(t, t.TempDir(), "process-data", "", "Process: $ARGUMENTS")

	res, err := o.Execute(context.Background(), RootContext(2), Request{
		SkillDir:  dir,
		Arguments: "data.csv",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.Strategy != StrategyAutonomous {
		t.Errorf("strategy wrong: %s", res.Strategy)
	}
	if res.Status != engine.StateSuccess || res.Answer != "processed" {
		t.Errorf("result wrong: %+v", res)
	}

	// The substituted arguments must reach the model.
	first := mock.Requests()[0]
	if !strings.Contains(first.Messages[0].Content, "Process: data.csv") {
		t.Errorf("substitution missing from prompt: %q", first.Messages[0].Content)
	}
}

func TestExecute_SimpleModeSinglePass(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse("plain single-pass answer")

	o := newOrchestrator(t, mock)
	dir := writeSkill(t, t.TempDir(), "quick-note", "execution-mode: simple\n", "Write a note about $ARGUMENTS")

	res, err := o.Execute(context.Background(), RootContext(2), Request{SkillDir: dir, Arguments: "cats"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.Strategy != StrategySimple {
		t.Errorf("strategy wrong: %s", res.Strategy)
	}
	if res.Answer != "plain single-pass answer" {
		t.Errorf("answer wrong: %q", res.Answer)
	}
	if mock.CallCount() != 1 {
		t.Errorf("single pass made %d calls", mock.CallCount())
	}
}

func TestExecute_ModeOverrideBeatsSkill(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse("overridden")

	o := newOrchestrator(t, mock)
	dir := writeSkill(t, t.TempDir(), "stubborn", "", "Do it for $ARGUMENTS")

	res, err := o.Execute(context.Background(), RootContext(2), Request{
		SkillDir: dir, Arguments: "x", Mode: "simple",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Strategy != StrategySimple {
		t.Errorf("override ignored: %s", res.Strategy)
	}
}

func TestExecute_InvalidSkillFailsBeforeExecution(t *testing.T) {
	mock := llm.NewMockProvider()
	o := newOrchestrator(t, mock)

	dir := filepath.Join(t.TempDir(), "broken")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte("no frontmatter"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := o.Execute(context.Background(), RootContext(2), Request{SkillDir: dir}); err == nil {
		t.Fatalf("invalid skill accepted")
	}
	if mock.CallCount() != 0 {
		t.Errorf("execution started despite validation failure")
	}
}

// A forked skill returns a truncated summary plus a trace reference,
// with the child's budget halved.
func TestExecute_ForkSummarizesChild(t *testing.T) {
	long := strings.Repeat("r", 800)
	mock := llm.NewMockProvider()
	mock.SetResponse(finalResponse(long))

	o := newOrchestrator(t, mock)
	dir := writeSkill(t, t.TempDir(), "research", "fork: true\n", "Research $ARGUMENTS")

	res, err := o.Execute(context.Background(), RootContext(2), Request{SkillDir: dir, Arguments: "topic"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.Strategy != StrategyFork {
		t.Fatalf("strategy wrong: %s", res.Strategy)
	}
	if res.TraceID == "" {
		t.Fatalf("trace reference missing")
	}
	if !strings.Contains(res.Answer, "...") || !strings.Contains(res.Answer, res.TraceID) {
		t.Errorf("summary not truncated with trace ref: %q", res.Answer)
	}
	if got := len(res.Answer); got > summaryLimit+100 {
		t.Errorf("summary too long: %d chars", got)
	}

	stored, err := o.Traces.Load(res.TraceID)
	if err != nil {
		t.Fatalf("load trace: %v", err)
	}
	if stored.Result != long {
		t.Errorf("full answer not preserved in trace")
	}
	if stored.Depth != 1 {
		t.Errorf("child depth wrong: %d", stored.Depth)
	}

	// Default budget 20 halved once for depth 1.
	sys := mock.LastRequest().System
	if !strings.Contains(sys, "of 10.") {
		t.Errorf("child budget not halved, system=%q", sys)
	}
}

// At the recursion bound the spawn is refused before any execution.
func TestExecute_ForkAtMaxDepthRefused(t *testing.T) {
	mock := llm.NewMockProvider()
	o := newOrchestrator(t, mock)
	dir := writeSkill(t, t.TempDir(), "deep-dive", "fork: true\n", "Go deeper into $ARGUMENTS")

	ec := ExecutionContext{Depth: 2, MaxDepth: 2}
	_, err := o.Execute(context.Background(), ec, Request{SkillDir: dir, Arguments: "x"})
	if !errors.Is(err, ErrMaxDepth) {
		t.Fatalf("expected ErrMaxDepth, got %v", err)
	}
	if mock.CallCount() != 0 {
		t.Errorf("child engine invoked despite depth bound")
	}
}

// Scenario: a fork at depth 1 spawns a child at depth 2; the child's
// own fork attempt is rejected.
func TestExecute_NestedForkRejectedAtBound(t *testing.T) {
	skillsRoot := t.TempDir()
	childDir := writeSkill(t, skillsRoot, "grandchild", "fork: true\n", "Dig into $ARGUMENTS")

	mock := llm.NewMockProvider()
	mock.RespondFunc = func(call int, req llm.Request) (*llm.Response, error) {
		if call == 0 {
			return &llm.Response{Content: fmt.Sprintf(
				`{"thought": "delegate", "action": {"tool": "run_skill", "args": {"skill": %q, "arguments": "x"}}}`,
				childDir)}, nil
		}
		return &llm.Response{Content: finalResponse("gave up on delegation")}, nil
	}

	o := newOrchestrator(t, mock)
	parentDir := writeSkill(t, skillsRoot, "parent-task", "fork: true\n", "Delegate $ARGUMENTS")

	res, err := o.Execute(context.Background(), ExecutionContext{Depth: 1, MaxDepth: 2}, Request{
		SkillDir: parentDir, Arguments: "topic",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != engine.StateSuccess {
		t.Fatalf("parent fork failed: %+v", res)
	}

	// The child ran at depth 2 and its run_skill call was refused, so
	// the refusal must appear as a failure observation in the second
	// model request.
	second := mock.Requests()[1]
	last := second.Messages[len(second.Messages)-1].Content
	if !strings.Contains(last, "max sub-agent depth exceeded") {
		t.Errorf("depth refusal not observed by child: %q", last)
	}
}

// Tool restrictions activate for the run and restore afterwards.
func TestExecute_WhitelistRestrictsTools(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse(finalResponse("done"))

	o := newOrchestrator(t, mock)
	dir := writeSkill(t, t.TempDir(), "locked-down", "allowed-tools:\n  - run_skill\n", "Do $ARGUMENTS")

	_, err := o.Execute(context.Background(), RootContext(2), Request{SkillDir: dir, Arguments: "x"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	sys := mock.LastRequest().System
	if strings.Contains(sys, "- echo:") {
		t.Errorf("restricted tool advertised to the model: %q", sys)
	}
	if !strings.Contains(sys, "- run_skill:") {
		t.Errorf("whitelisted tool missing from catalogue: %q", sys)
	}
}

func TestExecute_SkillModelHintWins(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse(finalResponse("ok"))

	o := newOrchestrator(t, mock)
	dir := writeSkill(t, t.TempDir(), "pinned-model", "model: special-reasoner\n", "Do $ARGUMENTS")

	if _, err := o.Execute(context.Background(), RootContext(2), Request{SkillDir: dir, Arguments: "x"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := mock.LastRequest().Model; got != "special-reasoner" {
		t.Errorf("skill model hint lost: %q", got)
	}

	// An explicit per-call override beats the skill hint.
	mock2 := llm.NewMockProvider()
	mock2.SetResponse(finalResponse("ok"))
	o2 := newOrchestrator(t, mock2)
	dir2 := writeSkill(t, t.TempDir(), "pinned-model", "model: special-reasoner\n", "Do $ARGUMENTS")
	if _, err := o2.Execute(context.Background(), RootContext(2), Request{
		SkillDir: dir2, Arguments: "x", Model: "operator-choice",
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := mock2.LastRequest().Model; got != "operator-choice" {
		t.Errorf("per-call override lost: %q", got)
	}
}
