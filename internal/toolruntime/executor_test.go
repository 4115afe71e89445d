package toolruntime_test

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa/internal/toolruntime"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

func register(t *testing.T, r *toolruntime.Registry, name string, serial bool, handler toolruntime.Handler) {
	t.Helper()
	err := r.Register(toolruntime.Descriptor{
		Definition: types.ToolDefinition{Name: name, Parameters: map[string]any{"type": "object"}},
		Handler:    handler,
		Serial:     serial,
	})
	if err != nil {
		t.Fatalf("Register(%q): %v", name, err)
	}
}

func TestExecutePreservesCallOrderDespiteParallelism(t *testing.T) {
	r := toolruntime.NewRegistry()
	register(t, r, "slow", false, func(_ context.Context, _ string) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "slow-result", nil
	})
	register(t, r, "fast", false, func(_ context.Context, _ string) (string, error) {
		return "fast-result", nil
	})

	x := toolruntime.NewExecutor(r)
	calls := []types.ToolCall{
		{ID: "1", Name: "slow", Arguments: "{}"},
		{ID: "2", Name: "fast", Arguments: "{}"},
	}
	results := x.Execute(context.Background(), calls)

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].ToolName != "slow" || results[0].Result != "slow-result" {
		t.Errorf("results[0] = %+v, want slow/slow-result", results[0])
	}
	if results[1].ToolName != "fast" || results[1].Result != "fast-result" {
		t.Errorf("results[1] = %+v, want fast/fast-result", results[1])
	}
}

func TestExecuteUnknownToolReturnsInvalidInput(t *testing.T) {
	r := toolruntime.NewRegistry()
	x := toolruntime.NewExecutor(r)

	results := x.Execute(context.Background(), []types.ToolCall{{ID: "1", Name: "nope", Arguments: "{}"}})
	if results[0].Status != toolruntime.StatusInvalidInput {
		t.Errorf("status = %q, want InvalidInput", results[0].Status)
	}
}

func TestExecuteTimeoutClassifiesAsTimeout(t *testing.T) {
	r := toolruntime.NewRegistry()
	register(t, r, "hangs", false, func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	x := toolruntime.NewExecutor(r)
	x.Timeout = 10 * time.Millisecond

	results := x.Execute(context.Background(), []types.ToolCall{{ID: "1", Name: "hangs", Arguments: "{}"}})
	if results[0].Status != toolruntime.StatusTimeout {
		t.Errorf("status = %q, want Timeout", results[0].Status)
	}
}

func TestExecuteClassifiesSentinelErrors(t *testing.T) {
	r := toolruntime.NewRegistry()
	register(t, r, "actually_denied", false, func(_ context.Context, _ string) (string, error) {
		return "", toolruntime.ErrDenied
	})
	register(t, r, "partial", false, func(_ context.Context, _ string) (string, error) {
		return "half the data", toolruntime.ErrPartialSuccess
	})

	x := toolruntime.NewExecutor(r)
	results := x.Execute(context.Background(), []types.ToolCall{
		{ID: "1", Name: "actually_denied", Arguments: "{}"},
		{ID: "2", Name: "partial", Arguments: "{}"},
	})

	if results[0].Status != toolruntime.StatusDenied {
		t.Errorf("results[0].Status = %q, want Denied", results[0].Status)
	}
	if results[1].Status != toolruntime.StatusPartialSuccess {
		t.Errorf("results[1].Status = %q, want PartialSuccess", results[1].Status)
	}
	if results[1].Result != "half the data" {
		t.Errorf("results[1].Result = %q, want %q", results[1].Result, "half the data")
	}
}

func TestForLlmFormatsStatusPrefix(t *testing.T) {
	res := toolruntime.ToolCallResult{Status: toolruntime.StatusSuccess, Result: `{"ok":true}`}
	want := `[Success]: {"ok":true}`
	if got := res.ForLlm(); got != want {
		t.Errorf("ForLlm() = %q, want %q", got, want)
	}
}
