// Package llm defines the Provider interface for large-language-model
// backends.
//
// The pipeline uses the same completion port for two prompt shapes:
// transcript summarization and title generation. A provider wraps one vendor
// SDK and one concrete model; chains of providers are arranged by the
// pipeline in user-preference order.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Well-known values for [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser, or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Request carries everything a model needs to produce a completion. A
// zero-value request is invalid; Messages must be non-empty.
type Request struct {
	// Messages is the ordered conversation history. The last message drives
	// the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the history. Providers without native system-prompt support prepend it
	// as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a completed (non-streaming) model reply.
type Response struct {
	// Content is the full text of the reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// An empty Content is an error condition and must be reported as such.
	Complete(ctx context.Context, req Request) (*Response, error)
}
