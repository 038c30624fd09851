// Package llm defines the boundary to the language-model provider.
//
// The engine never talks to a provider SDK directly: it sends a message
// history and receives generated text, nothing more. Concrete providers
// are wired in by the embedding application.
package llm

import "context"

// Message is a single conversation entry.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Request is one chat completion call.
type Request struct {
	Messages    []Message
	System      string
	Model       string
	Temperature float64
}

// Response is the generated completion.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is the single suspension point into the LLM. Implementations
// must honor context cancellation and deadlines.
type Provider interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}
