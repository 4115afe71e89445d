// Package toolruntime discovers, schemas, and executes in-process tool
// implementations offered to the LLM: a registry keyed by case-insensitive
// name, a JSON-Schema-from-struct reflector, and a parallel executor that
// enforces a per-call timeout and returns results in call order.
package toolruntime

import (
	"context"
	"fmt"

	"github.com/MrWong99/glyphoxa/pkg/types"
)

// Status is the result taxonomy a tool call settles into.
type Status string

const (
	StatusSuccess        Status = "Success"
	StatusPartialSuccess Status = "PartialSuccess"
	StatusError          Status = "Error"
	StatusDenied         Status = "Denied"
	StatusTimeout        Status = "Timeout"
	StatusRateLimited    Status = "RateLimited"
	StatusInvalidInput   Status = "InvalidInput"
)

// ToolCallResult is the outcome of executing one types.ToolCall.
type ToolCallResult struct {
	ToolCallID string
	ToolName   string
	Status     Status
	Result     string // tool output, or a human-readable error message

	// DurationMs and InputEcho are captured for observability but excluded
	// from ForLlm's output.
	DurationMs int64
	InputEcho  string
}

// ForLlm formats the result as a compact status-prefixed string suitable
// for inclusion in a tool message back to the LLM.
func (r ToolCallResult) ForLlm() string {
	return fmt.Sprintf("[%s]: %s", r.Status, r.Result)
}

// Handler executes a tool call given its raw JSON arguments. It must
// respect ctx cancellation and should return a descriptive error rather
// than panicking on malformed input.
type Handler func(ctx context.Context, jsonArgs string) (string, error)

// Descriptor declares one registrable tool: its LLM-facing definition, the
// handler that executes it, and whether it may run concurrently with other
// tools in the same batch.
type Descriptor struct {
	Definition types.ToolDefinition
	Handler    Handler

	// Serial, if true, opts this tool out of parallel fan-out: the executor
	// runs it alone, blocking the rest of the batch. Use for tools that
	// mutate shared state non-atomically (e.g. ending the conversation).
	Serial bool
}
