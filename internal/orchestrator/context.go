package orchestrator

// ExecutionContext is the recursion-control value passed down the call
// chain. It is copied, never mutated: spawning derives a child value
// one level deeper, so depth is monotonically non-decreasing along any
// chain.
type ExecutionContext struct {
	Depth        int
	MaxDepth     int
	ParentTaskID string
	RootTaskID   string
}

// RootContext starts a chain at depth zero.
func RootContext(maxDepth int) ExecutionContext {
	return ExecutionContext{MaxDepth: maxDepth}
}

// CanSpawn reports whether one more sub-agent level is allowed.
func (ec ExecutionContext) CanSpawn() bool {
	return ec.Depth < ec.MaxDepth
}

// Child derives the context for a sub-agent spawned by the task with
// the given identifier.
func (ec ExecutionContext) Child(parentTaskID string) ExecutionContext {
	child := ec
	child.Depth++
	child.ParentTaskID = parentTaskID
	if child.RootTaskID == "" {
		child.RootTaskID = parentTaskID
	}
	return child
}
