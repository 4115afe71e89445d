// Package llm defines the Provider interface for chat-completion backends.
//
// A Provider wraps an OpenAI-compatible chat-completions endpoint and
// exposes a uniform interface for unary and streaming completions, token
// counting, and capability inspection. Reasoning traces
// (types.Message.ReasoningDetails, types.ToolCall.ThoughtSignature) are
// opaque to this package: they must be round-tripped byte-for-byte between
// a streamed response and the next request that replays it.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/glyphoxa/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []types.Message

	// Tools is the set of function/tool definitions offered to the model.
	Tools []types.ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt, when non-empty, is prepended as a "system"-role message
	// ahead of Messages. Messages is not checked for an existing system
	// message.
	SystemPrompt string
}

// Chunk is a single fragment emitted by a streaming completion. A chunk may
// carry text, a finish signal, tool calls, or any combination thereof.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", "tool_calls",
	// or "" for a non-final chunk. The sentinel "error" marks a mid-stream
	// failure surfaced as a chunk rather than a returned error.
	FinishReason string

	// ToolCalls contains accumulated tool invocations, populated once the
	// provider has assembled complete call objects (normally on the chunk
	// that carries FinishReason == "tool_calls").
	ToolCalls []types.ToolCall

	// ReasoningDetails carries any reasoning trace fragments attached to
	// this chunk. Providers that don't emit reasoning leave this nil.
	ReasoningDetails []types.ReasoningDetail
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content          string
	ToolCalls        []types.ToolCall
	ReasoningDetails []types.ReasoningDetail
	Usage            Usage
}

// Provider is the abstraction over any OpenAI-compatible chat-completions
// backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly: when ctx is
// cancelled the method must return (or close its channel) as quickly as
// possible.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive, closed when generation
	// finishes or ctx is cancelled. The initial error return is non-nil
	// only for failures that prevent the stream from starting (invalid
	// credentials, malformed request).
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response. It is a
	// convenience wrapper for callers that don't need incremental output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the token cost of messages. The result need not
	// be exact but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata describing the underlying
	// model. Assumed constant for the lifetime of the Provider instance.
	Capabilities() types.ModelCapabilities
}
