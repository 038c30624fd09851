// Package engine drives the reason → act → observe loop for one task.
// The engine owns its mutable loop state exclusively; everything it
// touches outside the loop goes through injected boundaries: the LLM
// provider, the tool registry and the event dispatcher.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/skillrun/skillrun/internal/config"
	"github.com/skillrun/skillrun/internal/events"
	"github.com/skillrun/skillrun/internal/llm"
	"github.com/skillrun/skillrun/internal/logging"
	"github.com/skillrun/skillrun/internal/preprocess"
	"github.com/skillrun/skillrun/internal/telemetry"
	"github.com/skillrun/skillrun/internal/tools"
)

// Engine runs one task to a terminal state. Construct one per task;
// instances are not reusable.
type Engine struct {
	Provider llm.Provider
	Registry *tools.Registry
	Config   config.ExecutionConfig
	Events   *events.Dispatcher
	Log      *logging.Logger
	Tracer   *telemetry.Tracer

	TaskID string
	Skill  string
	Depth  int

	// ReadTools overrides the tool names treated as file readers for
	// the supporting-file catalogue. Empty means read_file.
	ReadTools []string
}

// Input is the preprocessed material the loop works from.
type Input struct {
	Instructions string
	Files        preprocess.FileIndex
}

// Result is the terminal outcome of one loop run.
type Result struct {
	State        State
	Answer       string
	Iterations   int
	LLMCalls     int
	Observations []Observation
	Partials     []string
	Errors       int
}

const repromptMessage = "Your previous response was not a valid directive. " +
	"Respond with a single JSON object: either " +
	`{"thought": "...", "action": {"tool": "...", "args": {...}}} or {"final": "..."}.`

// Run executes the loop until a final answer, budget exhaustion or a
// fatal error. It always returns a usable Result; errors along the way
// become observations, not aborts.
func (e *Engine) Run(ctx context.Context, in Input) Result {
	if e.Tracer == nil {
		e.Tracer = telemetry.Noop()
	}
	st := newExecutionState()

	ctx, span := e.Tracer.StartSpan(ctx, "task.run")
	span.SetAttributes(
		attribute.String("task.skill", e.Skill),
		attribute.Int("task.depth", e.Depth),
	)
	defer span.End()

	e.emit(events.Event{
		Type: events.TypeStatus, Text: "task started",
		Visibility: events.VisibilitySummary,
	})

	messages := []llm.Message{{Role: "user", Content: in.Instructions}}
	llmCalls := 0

	for st.iteration < e.Config.MaxIterations {
		if ctx.Err() != nil {
			st.state = StateFailed
			return e.finish(st, llmCalls, "task cancelled: "+ctx.Err().Error())
		}

		st.iteration++
		st.state = StateIterating
		e.emit(events.Event{
			Type: events.TypeStatus, Text: fmt.Sprintf("iteration %d of %d", st.iteration, e.Config.MaxIterations),
			Visibility: events.VisibilityFull, Iteration: st.iteration,
		})

		resp, err := e.chat(ctx, in, st, messages)
		llmCalls++
		if err != nil {
			if fatal := e.recordCallFailure(st, err); fatal {
				st.state = StateFailed
				return e.finish(st, llmCalls, fmt.Sprintf("model unreachable after repeated attempts: %v", err))
			}
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: fmt.Sprintf("[The previous model call failed: %v. Continue from the last observation.]", err),
			})
			continue
		}

		st.state = StateReasoning
		d, perr := parseDirective(resp.Content)
		if perr != nil {
			if e.Config.EarlyTermination && extractJSON(resp.Content) == "" && strings.TrimSpace(resp.Content) != "" {
				// Plain prose from a model that never learned the
				// directive shape: accepted as the final answer when
				// the skill opts in.
				st.state = StateSuccess
				e.emitCompletion(resp.Content)
				return e.finish(st, llmCalls, strings.TrimSpace(resp.Content))
			}
			e.logWarn("malformed directive", map[string]interface{}{
				"iteration": st.iteration, "error": perr.Error(),
			})
			messages = append(messages,
				llm.Message{Role: "assistant", Content: resp.Content},
				llm.Message{Role: "user", Content: repromptMessage},
			)
			continue
		}

		if d.Thought != "" {
			e.emit(events.Event{
				Type: events.TypeMessage, Text: d.Thought,
				Visibility: events.VisibilityFull, Iteration: st.iteration,
			})
		}

		if d.IsFinal() {
			st.state = StateSuccess
			e.emitCompletion(d.Final)
			return e.finish(st, llmCalls, d.Final)
		}

		st.state = StateToolDispatch
		obs := e.dispatch(ctx, d.Action)
		st.observe(obs)

		var observation string
		if obs.Success {
			e.markLoaded(in.Files, st, d.Action)
			st.addPartial(obs.Output)
			observation = e.truncate(obs.Output)
			if observation == "" {
				observation = "(no output)"
			}
		} else {
			observation = e.recovery(st, obs)
			e.emit(events.Event{
				Type: events.TypeError, Text: fmt.Sprintf("tool %s failed: %s", obs.Tool, obs.Error),
				Visibility: events.VisibilitySummary, Tool: obs.Tool, Iteration: st.iteration,
			})
		}

		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: "Observation: " + observation},
		)
	}

	// Budget exhausted without a final answer: surface whatever was
	// accomplished rather than an empty failure.
	if len(st.partials) > 0 {
		st.state = StatePartialSuccess
		answer := e.synthesize(st)
		e.emitCompletion(answer)
		return e.finish(st, llmCalls, answer)
	}
	st.state = StateFailed
	answer := fmt.Sprintf("task did not complete within %d iterations (%d errors recorded)",
		e.Config.MaxIterations, st.errorCount)
	e.emit(events.Event{
		Type: events.TypeError, Text: answer,
		Visibility: events.VisibilitySummary,
	})
	return e.finish(st, llmCalls, answer)
}

// chat performs one model call under the per-iteration timeout, with
// bounded backoff on transport failure.
func (e *Engine) chat(ctx context.Context, in Input, st *executionState, messages []llm.Message) (*llm.Response, error) {
	iterCtx, cancel := context.WithTimeout(ctx, e.Config.IterationTimeout)
	defer cancel()

	req := llm.Request{
		Messages:    messages,
		System:      e.buildSystem(in, st),
		Model:       e.Config.Model,
		Temperature: e.Config.Temperature,
	}

	attempts := e.Config.TransportRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-iterCtx.Done():
				return nil, iterCtx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx, span := e.Tracer.StartSpan(iterCtx, "llm.chat")
		resp, err := e.Provider.Chat(callCtx, req)
		if err != nil {
			span.RecordError(err)
			span.End()
			lastErr = err
			if iterCtx.Err() != nil {
				return nil, iterCtx.Err()
			}
			continue
		}
		span.End()
		return resp, nil
	}
	return nil, lastErr
}

// recordCallFailure counts a model-call failure against its
// fingerprint. Returns true once the same failure has exhausted its
// retry allowance, which is the only condition that aborts the task.
func (e *Engine) recordCallFailure(st *executionState, err error) bool {
	st.errorCount++
	fp := fingerprint("__model__", err.Error())
	if st.retries[fp] < e.Config.MaxRetriesPerTool {
		st.retries[fp]++
		return false
	}
	return true
}

// dispatch resolves and invokes one tool, wrapping the call in a span.
func (e *Engine) dispatch(ctx context.Context, action *Action) Observation {
	obs := Observation{Tool: action.Tool, Args: action.Args}

	inv, err := e.Registry.Lookup(action.Tool)
	if err != nil {
		obs.Error = err.Error()
		return obs
	}

	callCtx, span := e.Tracer.StartSpan(ctx, "tool."+action.Tool)
	start := time.Now()
	res := inv.Invoke(callCtx, tools.Args(action.Args))
	obs.Duration = time.Since(start)
	if res.Duration > 0 {
		obs.Duration = res.Duration
	}

	if res.Err != nil {
		obs.Error = res.Err.Error()
		span.RecordError(res.Err)
	} else {
		obs.Success = true
		obs.Output = res.Output
	}
	span.End()

	if e.Log != nil {
		e.Log.ToolResult(action.Tool, obs.Duration, res.Err)
	}
	e.emit(events.Event{
		Type: events.TypeMessage, Text: fmt.Sprintf("tool %s finished in %s", action.Tool, obs.Duration.Round(time.Millisecond)),
		Visibility: events.VisibilityFull, Tool: action.Tool,
	})
	return obs
}

// recovery applies the retry policy to a failed observation and builds
// the guidance the model sees next. A fingerprint's counter never
// passes the configured limit; at the limit the guidance switches from
// retry to abandonment.
func (e *Engine) recovery(st *executionState, obs Observation) string {
	if !e.Config.RecoveryEnabled {
		return fmt.Sprintf("Tool %s failed: %s.", obs.Tool, obs.Error)
	}

	fp := fingerprint(obs.Tool, obs.Error)
	if st.retries[fp] < e.Config.MaxRetriesPerTool {
		st.retries[fp]++
		return fmt.Sprintf("Tool %s failed: %s. Retry this tool with different parameters (attempt %d of %d).",
			obs.Tool, obs.Error, st.retries[fp], e.Config.MaxRetriesPerTool)
	}
	return fmt.Sprintf("Tool %s failed: %s. This approach has been tried %d times without success; abandon it and use a different tool or strategy.",
		obs.Tool, obs.Error, st.retries[fp])
}

// buildSystem assembles the per-iteration system prompt: role, tool
// catalogue, unloaded supporting files and the budget position.
func (e *Engine) buildSystem(in Input, st *executionState) string {
	var b strings.Builder
	b.WriteString("You are an autonomous task executor. Work step by step toward completing the task.\n")
	b.WriteString("Respond with exactly one JSON object per turn: ")
	b.WriteString(`{"thought": "...", "action": {"tool": "...", "args": {...}}} to act, or {"final": "..."} when the task is complete.`)
	b.WriteString("\n\nAvailable tools:\n")
	for _, inv := range e.Registry.Describe() {
		fmt.Fprintf(&b, "- %s: %s\n", inv.Name(), inv.Description())
	}

	if unloaded := in.Files.Unloaded(); len(unloaded) > 0 {
		b.WriteString("\nSupporting files not yet loaded (read them only when needed):\n")
		for _, ref := range unloaded {
			fmt.Fprintf(&b, "- %s", ref.Name)
			if ref.Description != "" {
				fmt.Fprintf(&b, ": %s", ref.Description)
			}
			if ref.EstLines > 0 {
				fmt.Fprintf(&b, " (~%d lines)", ref.EstLines)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\nIteration %d of %d.", st.iteration, e.Config.MaxIterations)
	return b.String()
}

// defaultReadTools names the tools whose success means a file's
// content actually entered the conversation.
var defaultReadTools = []string{"read_file"}

// markLoaded records supporting files pulled in by a successful
// file-reading action so they drop out of the unloaded list. Only read
// tools count: a write or list naming the same path leaves the file
// unloaded because its content never reached the model.
func (e *Engine) markLoaded(files preprocess.FileIndex, st *executionState, action *Action) {
	if len(files) == 0 {
		return
	}
	readTools := e.ReadTools
	if len(readTools) == 0 {
		readTools = defaultReadTools
	}
	isRead := false
	for _, name := range readTools {
		if action.Tool == name {
			isRead = true
			break
		}
	}
	if !isRead {
		return
	}
	for _, key := range []string{"path", "file", "name"} {
		v, _ := action.Args[key].(string)
		if v == "" {
			continue
		}
		for _, candidate := range []string{v, filepath.Base(v)} {
			if files.MarkLoaded(candidate) {
				st.loadedFiles[candidate] = true
				return
			}
		}
	}
}

// synthesize builds a best-effort answer from accumulated partial
// results.
func (e *Engine) synthesize(st *executionState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The task ran out of its %d-iteration budget before a final answer. Partial results:\n",
		e.Config.MaxIterations)
	for i, p := range st.partials {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e.truncate(p))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) truncate(s string) string {
	limit := e.Config.CommandOutputCap
	if limit <= 0 {
		limit = 10000
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[output truncated]"
}

func (e *Engine) finish(st *executionState, llmCalls int, answer string) Result {
	if e.Log != nil {
		e.Log.Info("task finished", map[string]interface{}{
			"state":      string(st.state),
			"iterations": st.iteration,
			"errors":     st.errorCount,
		})
	}
	return Result{
		State:        st.state,
		Answer:       answer,
		Iterations:   st.iteration,
		LLMCalls:     llmCalls,
		Observations: st.observations,
		Partials:     st.partials,
		Errors:       st.errorCount,
	}
}

func (e *Engine) emit(ev events.Event) {
	if e.Events == nil {
		return
	}
	ev.TaskID = e.TaskID
	ev.Skill = e.Skill
	ev.Depth = e.Depth
	e.Events.Publish(ev)
}

func (e *Engine) emitCompletion(answer string) {
	e.emit(events.Event{
		Type: events.TypeCompletion, Text: e.truncate(answer),
		Visibility: events.VisibilitySummary,
	})
}

func (e *Engine) logWarn(msg string, fields map[string]interface{}) {
	if e.Log != nil {
		e.Log.Warn(msg, fields)
	}
}
