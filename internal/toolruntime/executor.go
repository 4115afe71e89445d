package toolruntime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/types"
)

// DefaultTimeout is the per-call timeout applied when Executor.Timeout is
// zero.
const DefaultTimeout = 30 * time.Second

// Executor runs batches of tool calls against a Registry.
type Executor struct {
	registry *Registry

	// Timeout bounds each individual tool call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewExecutor returns an Executor backed by registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute runs every call in calls, in parallel unless a tool opted out via
// Descriptor.Serial, and returns one ToolCallResult per call in the same
// order calls were given — regardless of completion order, since each
// result is written to its own index rather than appended from a worker
// goroutine.
//
// ctx is the turn's root context; each call additionally gets its own
// per-call timeout derived from it, per spec ("a linked token with an
// additional 30-second deadline").
func (x *Executor) Execute(ctx context.Context, calls []types.ToolCall) []ToolCallResult {
	results := make([]ToolCallResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		i, call := i, call

		e, ok := x.registry.lookup(call.Name)
		if !ok {
			results[i] = x.notFoundResult(call)
			continue
		}

		if e.serial {
			wg.Wait() // let earlier parallel calls finish so this one runs alone
			results[i] = x.run(ctx, call, e)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = x.run(ctx, call, e)
		}()
	}
	wg.Wait()

	return results
}

func (x *Executor) notFoundResult(call types.ToolCall) ToolCallResult {
	return ToolCallResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Status:     StatusInvalidInput,
		Result:     "unknown tool: " + call.Name,
		InputEcho:  call.Arguments,
	}
}

func (x *Executor) timeout() time.Duration {
	if x.Timeout > 0 {
		return x.Timeout
	}
	return DefaultTimeout
}

// run executes a single tool call under its own timeout and classifies the
// outcome into the result taxonomy.
func (x *Executor) run(ctx context.Context, call types.ToolCall, e entry) ToolCallResult {
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, x.timeout())
	defer cancel()

	output, err := e.handle(cctx, call.Arguments)
	duration := time.Since(start).Milliseconds()

	result := ToolCallResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		DurationMs: duration,
		InputEcho:  call.Arguments,
	}

	switch {
	case err == nil:
		result.Status = StatusSuccess
		result.Result = output
	case errors.Is(err, ErrPartialSuccess):
		result.Status = StatusPartialSuccess
		if output != "" {
			result.Result = output
		} else {
			result.Result = err.Error()
		}
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = StatusTimeout
		result.Result = "tool call timed out after " + x.timeout().String()
	case errors.Is(err, ErrRateLimited):
		result.Status = StatusRateLimited
		result.Result = err.Error()
	case errors.Is(err, ErrDenied):
		result.Status = StatusDenied
		result.Result = err.Error()
	case errors.Is(err, ErrInvalidInput):
		result.Status = StatusInvalidInput
		result.Result = err.Error()
	default:
		result.Status = StatusError
		result.Result = err.Error()
	}
	return result
}

// Sentinel errors a Handler may wrap to steer Execute's status
// classification beyond the generic StatusError bucket.
var (
	ErrRateLimited    = errors.New("toolruntime: rate limited")
	ErrDenied         = errors.New("toolruntime: denied")
	ErrInvalidInput   = errors.New("toolruntime: invalid input")
	ErrPartialSuccess = errors.New("toolruntime: partial success")
)
