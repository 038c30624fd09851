package llm

import (
	"context"
	"fmt"
	"sync"
)

// mockStep is one scripted turn: either a response or an error.
type mockStep struct {
	content string
	err     error
}

// MockProvider is a scripted provider for tests. Steps play back in
// order; the last one repeats once the script is exhausted.
type MockProvider struct {
	mu        sync.Mutex
	steps     []mockStep
	requests  []Request
	callCount int

	// RespondFunc, when set, overrides the scripted steps entirely.
	RespondFunc func(call int, req Request) (*Response, error)
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// SetResponse replaces the script with a single response.
func (m *MockProvider) SetResponse(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = []mockStep{{content: content}}
}

// QueueResponse appends a response to the script.
func (m *MockProvider) QueueResponse(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, mockStep{content: content})
}

// QueueError appends an error to the script.
func (m *MockProvider) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, mockStep{err: err})
}

// Chat plays back the next scripted step.
func (m *MockProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	call := m.callCount
	m.callCount++

	if m.RespondFunc != nil {
		return m.RespondFunc(call, req)
	}

	if len(m.steps) == 0 {
		return nil, fmt.Errorf("mock provider: no responses scripted")
	}

	idx := call
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	step := m.steps[idx]
	if step.err != nil {
		return nil, step.err
	}
	return &Response{Content: step.content, Model: req.Model}, nil
}

// CallCount returns the number of Chat calls made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastRequest returns the most recent request, or a zero Request.
func (m *MockProvider) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return Request{}
	}
	return m.requests[len(m.requests)-1]
}

// Requests returns a copy of all recorded requests.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}
