// Package tools defines the tool-invocation boundary. Tool
// implementations live outside this module; the engine only depends on
// the Invoker contract and the registry that holds the active set.
package tools

import (
	"context"
	"time"
)

// Args is the decoded argument object from an action directive.
type Args map[string]interface{}

// String extracts a string argument, empty when absent or mistyped.
func (a Args) String(key string) string {
	v, _ := a[key].(string)
	return v
}

// Result is the observable outcome of one tool invocation.
type Result struct {
	Output   string
	Err      error
	Duration time.Duration

	// Usage metadata reported by tools that consume billable
	// resources. Zero for tools that track none.
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Invoker is one callable tool.
type Invoker interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, args Args) Result
}

// Func adapts a function to the Invoker interface.
type Func struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, args Args) Result
}

func (f Func) Name() string        { return f.ToolName }
func (f Func) Description() string { return f.Desc }
func (f Func) Invoke(ctx context.Context, args Args) Result {
	return f.Fn(ctx, args)
}
