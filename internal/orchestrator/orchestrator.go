// Package orchestrator routes a task to an execution strategy and
// enforces the sub-agent recursion bound. It owns the skill for the
// duration of one task: loading, preprocessing, tool restriction and
// event attribution all happen here, around the engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skillrun/skillrun/internal/config"
	"github.com/skillrun/skillrun/internal/engine"
	"github.com/skillrun/skillrun/internal/events"
	"github.com/skillrun/skillrun/internal/llm"
	"github.com/skillrun/skillrun/internal/logging"
	"github.com/skillrun/skillrun/internal/preprocess"
	"github.com/skillrun/skillrun/internal/sandbox"
	"github.com/skillrun/skillrun/internal/skillfile"
	"github.com/skillrun/skillrun/internal/telemetry"
	"github.com/skillrun/skillrun/internal/tools"
	"github.com/skillrun/skillrun/internal/trace"
)

// ErrMaxDepth rejects a sub-agent spawn at the recursion bound. Fatal
// for the spawn attempt only; the parent task continues.
var ErrMaxDepth = errors.New("max sub-agent depth exceeded")

// Strategy is the resolved execution route for one task.
type Strategy string

const (
	StrategyAutonomous Strategy = "autonomous"
	StrategySimple     Strategy = "simple"
	StrategyFork       Strategy = "fork"
)

// summaryLimit caps what a parent sees of a child sub-agent's answer.
const summaryLimit = 500

// Orchestrator runs tasks. One instance serves many concurrent tasks;
// per-task state (registry, engine, execution state) is constructed
// fresh for each Execute call so tasks never share mutable state.
type Orchestrator struct {
	Provider llm.Provider
	Tools    []tools.Invoker
	Config   *config.Config
	Events   *events.Dispatcher
	Log      *logging.Logger
	Tracer   *telemetry.Tracer
	Traces   *trace.Store
	Skills   *skillfile.Index

	WorkingDir string
	User       string
}

// Request describes one task submission.
type Request struct {
	SkillDir  string
	Arguments string
	SessionID string

	// Mode forces a strategy, overriding the skill's declaration.
	Mode string
	// Model overrides both the skill hint and the platform default.
	Model string
}

// TaskResult is what the caller gets back.
type TaskResult struct {
	TaskID     string
	Skill      string
	Strategy   Strategy
	Status     engine.State
	Answer     string
	Iterations int
	Errors     int

	// TraceID references the stored full trace of a forked child.
	TraceID string
}

// Execute runs one task to completion. Only skill-load and
// configuration failures, plus a refused spawn, surface as errors;
// everything that happens after execution starts is reported inside
// the TaskResult.
func (o *Orchestrator) Execute(ctx context.Context, ec ExecutionContext, req Request) (*TaskResult, error) {
	skill, err := skillfile.Load(req.SkillDir)
	if err != nil {
		return nil, err
	}

	strategy := o.resolveStrategy(req.Mode, skill)
	if strategy == StrategyFork {
		return o.executeFork(ctx, ec, req, skill)
	}

	cfg, err := o.resolveConfig(skill, req.Model)
	if err != nil {
		return nil, err
	}
	return o.executeDirect(ctx, ec, req, skill, cfg, strategy)
}

// resolveStrategy applies the priority: explicit override, then the
// skill's declaration, then the autonomous default.
func (o *Orchestrator) resolveStrategy(override string, skill *skillfile.Skill) Strategy {
	switch override {
	case string(StrategyAutonomous), string(StrategySimple), string(StrategyFork):
		return Strategy(override)
	}
	if skill.Fork {
		return StrategyFork
	}
	if skill.Mode() == skillfile.ModeSimple {
		return StrategySimple
	}
	return StrategyAutonomous
}

func (o *Orchestrator) resolveConfig(skill *skillfile.Skill, modelOverride string) (config.ExecutionConfig, error) {
	ov := skill.Overrides()
	if modelOverride != "" {
		ov.Model = modelOverride
	}
	return o.Config.Resolve(ov)
}

// executeDirect runs the autonomous loop or the single-pass strategy in
// the current context.
func (o *Orchestrator) executeDirect(ctx context.Context, ec ExecutionContext, req Request, skill *skillfile.Skill, cfg config.ExecutionConfig, strategy Strategy) (*TaskResult, error) {
	taskID := uuid.NewString()
	log := o.taskLogger(taskID)
	if skill.LengthWarning != "" {
		log.Warn(skill.LengthWarning, nil)
	}
	log.TaskStart(skill.Name)
	start := time.Now()

	registry, err := o.buildRegistry(ec, req.SessionID, skill, log)
	if err != nil {
		return nil, err
	}

	// Activate the skill's tool restriction for the whole run. The
	// deferred restore covers every exit path.
	restore := registry.Restrict(skill.Name, skill.Whitelist())
	defer restore()

	prep := o.preprocessSkill(ctx, req, skill, cfg, log)

	result := &TaskResult{TaskID: taskID, Skill: skill.Name, Strategy: strategy}
	switch strategy {
	case StrategySimple:
		o.runSimple(ctx, prep.text, cfg, result, log)
	default:
		eng := &engine.Engine{
			Provider: o.Provider,
			Registry: registry,
			Config:   cfg,
			Events:   o.Events,
			Log:      log,
			Tracer:   o.Tracer,
			TaskID:   taskID,
			Skill:    skill.Name,
			Depth:    ec.Depth,
		}
		res := eng.Run(ctx, engine.Input{Instructions: prep.text, Files: prep.files})
		result.Status = res.State
		result.Answer = res.Answer
		result.Iterations = res.Iterations
		result.Errors = res.Errors
	}

	log.TaskComplete(skill.Name, time.Since(start), string(result.Status))
	return result, nil
}

// runSimple is the legacy single-pass strategy: one model call, no tool
// loop.
func (o *Orchestrator) runSimple(ctx context.Context, instructions string, cfg config.ExecutionConfig, result *TaskResult, log *logging.Logger) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.IterationTimeout)
	defer cancel()

	resp, err := o.Provider.Chat(callCtx, llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: instructions}},
		System:      "Complete the task described by the user in a single response.",
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	})
	result.Iterations = 1
	if err != nil {
		result.Status = engine.StateFailed
		result.Answer = fmt.Sprintf("model call failed: %v", err)
		result.Errors = 1
		log.Error("single-pass call failed", map[string]interface{}{"error": err.Error()})
		return
	}
	result.Status = engine.StateSuccess
	result.Answer = resp.Content
	o.publish(events.Event{
		Type: events.TypeCompletion, Text: resp.Content,
		Visibility: events.VisibilitySummary, TaskID: result.TaskID, Skill: result.Skill,
	})
}

// executeFork runs the skill as a sub-agent one level deeper. The
// parent receives only a truncated summary and a trace reference;
// the child's full event stream goes to the trace store, not to the
// parent's sinks.
func (o *Orchestrator) executeFork(ctx context.Context, ec ExecutionContext, req Request, skill *skillfile.Skill) (*TaskResult, error) {
	if !ec.CanSpawn() {
		o.publish(events.Event{
			Type:       events.TypeError,
			Text:       fmt.Sprintf("cannot spawn sub-agent for skill %q: depth %d has reached the maximum of %d", skill.Name, ec.Depth, ec.MaxDepth),
			Visibility: events.VisibilitySummary,
			Skill:      skill.Name,
			Depth:      ec.Depth,
			Fatal:      true,
		})
		return nil, fmt.Errorf("%w: depth %d of %d", ErrMaxDepth, ec.Depth, ec.MaxDepth)
	}

	cfg, err := o.resolveConfig(skill, req.Model)
	if err != nil {
		return nil, err
	}

	parentTaskID := uuid.NewString()
	child := ec.Child(parentTaskID)
	childCfg := cfg.HalveForDepth(child.Depth)

	// The child runs non-streaming: its events land in a collector and
	// are persisted with the trace instead of reaching the parent's
	// sinks.
	collector := events.NewCollector()
	childEvents := events.NewDispatcher(o.Config.Events.BufferSize)
	childEvents.Attach(collector, events.RoleOperator)

	childOrc := *o
	childOrc.Events = childEvents

	log := o.taskLogger(parentTaskID)
	log.Info("spawning sub-agent", map[string]interface{}{
		"skill": skill.Name, "depth": child.Depth, "max_iterations": childCfg.MaxIterations,
	})

	started := time.Now()
	childReq := req
	childReq.Mode = string(StrategyAutonomous)
	childResult, err := childOrc.executeDirect(ctx, child, childReq, skill, childCfg, StrategyAutonomous)
	_ = childEvents.Close()
	if err != nil {
		return nil, err
	}

	traceID := ""
	if o.Traces != nil {
		traceID, err = o.Traces.Save(&trace.Trace{
			Skill:      skill.Name,
			TaskID:     childResult.TaskID,
			Depth:      child.Depth,
			Status:     string(childResult.Status),
			Result:     childResult.Answer,
			Iterations: childResult.Iterations,
			Events:     collector.Events(),
			StartedAt:  started,
			FinishedAt: time.Now(),
		})
		if err != nil {
			log.Warn("failed to persist sub-agent trace", map[string]interface{}{"error": err.Error()})
		}
	}

	summary := childResult.Answer
	if len(summary) > summaryLimit {
		summary = summary[:summaryLimit] + "..."
	}
	if traceID != "" {
		summary += fmt.Sprintf(" [full trace: %s]", traceID)
	}

	o.publish(events.Event{
		Type: events.TypeStatus, Text: fmt.Sprintf("sub-agent %s finished: %s", skill.Name, childResult.Status),
		Visibility: events.VisibilitySummary, TaskID: parentTaskID, Skill: skill.Name, Depth: ec.Depth,
	})

	return &TaskResult{
		TaskID:     parentTaskID,
		Skill:      skill.Name,
		Strategy:   StrategyFork,
		Status:     childResult.Status,
		Answer:     summary,
		Iterations: childResult.Iterations,
		Errors:     childResult.Errors,
		TraceID:    traceID,
	}, nil
}

type preprocessed struct {
	text  string
	files preprocess.FileIndex
}

// preprocessSkill runs the fixed pipeline: substitution, file indexing,
// then inline command injection.
func (o *Orchestrator) preprocessSkill(ctx context.Context, req Request, skill *skillfile.Skill, cfg config.ExecutionConfig, log *logging.Logger) preprocessed {
	pctx := preprocess.Context{
		Arguments:  req.Arguments,
		SessionID:  req.SessionID,
		SkillDir:   skill.Path,
		WorkingDir: o.WorkingDir,
		User:       o.User,
		Date:       time.Now(),
	}
	sub := preprocess.Substitute(skill.Instructions, pctx)
	if len(sub.Undefined) > 0 {
		log.Warn("unresolved placeholders in skill text", map[string]interface{}{
			"placeholders": strings.Join(sub.Undefined, ","),
		})
	}

	files := preprocess.IndexFiles(sub.Text, skill.Path)

	injector := &preprocess.Injector{
		Whitelist:  skill.Whitelist(),
		WorkingDir: o.WorkingDir,
		Timeout:    cfg.CommandTimeout,
		OutputCap:  cfg.CommandOutputCap,
		Log:        log,
	}
	inj := injector.Inject(ctx, sub.Text)
	for _, cr := range inj.Commands {
		if cr.Rejected {
			o.publish(events.Event{
				Type: events.TypeError, Text: "inline command rejected: " + cr.Reason,
				Visibility: events.VisibilityFull, Skill: skill.Name,
			})
		}
	}

	return preprocessed{text: inj.Text, files: files}
}

// buildRegistry assembles the per-task tool set: the configured tools
// plus the spawn tool bound to this task's recursion context and the
// script tool bound to this skill's scripts directory.
func (o *Orchestrator) buildRegistry(ec ExecutionContext, sessionID string, skill *skillfile.Skill, log *logging.Logger) (*tools.Registry, error) {
	invokers := make([]tools.Invoker, 0, len(o.Tools)+2)
	invokers = append(invokers, o.Tools...)
	invokers = append(invokers, o.spawnTool(ec, sessionID))
	invokers = append(invokers, o.scriptTool(skill, log))
	return tools.NewRegistry(invokers...)
}

// scriptTool runs a script bundled with the skill under the configured
// sandbox policy. Failures come back as tool errors so the loop can
// observe and adapt.
func (o *Orchestrator) scriptTool(skill *skillfile.Skill, log *logging.Logger) tools.Invoker {
	runner := sandbox.NewRunner(skill.Path, log)
	policy := sandbox.Policy{
		Isolation:    o.Config.Sandbox.Isolation,
		Timeout:      o.Config.SandboxTimeoutDuration(),
		MemoryMB:     o.Config.Sandbox.MemoryMB,
		CPUSeconds:   o.Config.Sandbox.CPUSeconds,
		CPUs:         o.Config.Sandbox.CPUs,
		AllowNetwork: o.Config.Sandbox.AllowNetwork,
		Image:        o.Config.Sandbox.Image,
		WorkspaceDir: o.WorkingDir,
	}
	return tools.Func{
		ToolName: "run_script",
		Desc:     "run a script bundled with the skill; args: script (name under scripts/), args (list of strings)",
		Fn: func(ctx context.Context, args tools.Args) tools.Result {
			script := args.String("script")
			if script == "" {
				return tools.Result{Err: errors.New("run_script requires a script argument")}
			}
			var argv []string
			if list, ok := args["args"].([]interface{}); ok {
				for _, item := range list {
					if s, ok := item.(string); ok {
						argv = append(argv, s)
					}
				}
			}
			res := runner.Run(ctx, script, argv, policy)
			if !res.Success {
				reason := res.Reason
				if reason == "" {
					reason = fmt.Sprintf("script exited with code %d", res.ExitCode)
				}
				if res.TimedOut {
					reason = "script timed out"
				}
				return tools.Result{Err: fmt.Errorf("%s: %s", reason, firstLine(res.Output)), Duration: res.Duration}
			}
			return tools.Result{Output: res.Output, Duration: res.Duration}
		},
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// spawnTool lets a running task delegate a sub-task to another skill.
// The recursion bound is enforced by the fork path it calls into.
func (o *Orchestrator) spawnTool(ec ExecutionContext, sessionID string) tools.Invoker {
	return tools.Func{
		ToolName: "run_skill",
		Desc:     "delegate a sub-task to another skill; args: skill (name), arguments (string)",
		Fn: func(ctx context.Context, args tools.Args) tools.Result {
			name := args.String("skill")
			if name == "" {
				return tools.Result{Err: errors.New("run_skill requires a skill argument")}
			}
			dir, err := o.resolveSkillDir(name)
			if err != nil {
				return tools.Result{Err: err}
			}

			start := time.Now()
			res, err := o.Execute(ctx, ec, Request{
				SkillDir:  dir,
				Arguments: args.String("arguments"),
				SessionID: sessionID,
				Mode:      string(StrategyFork),
			})
			if err != nil {
				return tools.Result{Err: err, Duration: time.Since(start)}
			}
			return tools.Result{Output: res.Answer, Duration: time.Since(start)}
		},
	}
}

// resolveSkillDir maps a skill name to its directory via the discovery
// index, falling back to treating the name as a path.
func (o *Orchestrator) resolveSkillDir(name string) (string, error) {
	if o.Skills != nil {
		if ref, ok := o.Skills.Find(name); ok {
			return ref.Path, nil
		}
	}
	if info, err := os.Stat(name); err == nil && info.IsDir() {
		return name, nil
	}
	return "", fmt.Errorf("unknown skill %q", name)
}

func (o *Orchestrator) taskLogger(taskID string) *logging.Logger {
	log := o.Log
	if log == nil {
		log = logging.New()
	}
	return log.WithComponent("orchestrator").WithTask(taskID)
}

func (o *Orchestrator) publish(ev events.Event) {
	if o.Events != nil {
		o.Events.Publish(ev)
	}
}
