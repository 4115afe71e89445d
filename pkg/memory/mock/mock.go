// Package mock provides an in-memory test double for [memory.Index].
//
// It records every call for assertion in tests and exposes exported fields
// that control what it returns. Safe for concurrent use via an internal
// [sync.Mutex].
//
// Typical usage:
//
//	idx := &mock.Index{}
//	idx.SearchResult = []memory.SearchResult{{Entry: memory.Entry{ID: "1"}, Score: 0.9}}
//
//	// inject idx into the system under test …
//
//	if got := idx.CallCount("Search"); got != 1 {
//	    t.Errorf("expected 1 Search call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphoxa/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Index is a configurable test double for [memory.Index]. All exported *Err
// fields default to nil (success); SearchResult defaults to nil (empty
// slice returned).
type Index struct {
	mu sync.Mutex

	calls []Call

	// UpsertErr is returned by [Index.Upsert] when non-nil.
	UpsertErr error

	// Upserted accumulates every entry ever passed to Upsert, in call order.
	Upserted []memory.Entry

	// SearchResult is returned by [Index.Search]. When nil, Search returns
	// an empty non-nil slice.
	SearchResult []memory.SearchResult

	// SearchErr is returned by [Index.Search] when non-nil.
	SearchErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *Index) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Index) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *Index) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Upsert implements [memory.Index].
func (m *Index) Upsert(_ context.Context, entries []memory.Entry, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Upsert", Args: []any{entries, vectors}})
	m.Upserted = append(m.Upserted, entries...)
	return m.UpsertErr
}

// Search implements [memory.Index].
func (m *Index) Search(_ context.Context, embedding []float32, topK int, filter memory.Filter) ([]memory.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{embedding, topK, filter}})
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchResult == nil {
		return []memory.SearchResult{}, nil
	}
	out := make([]memory.SearchResult, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, nil
}

// Ensure Index satisfies the interface at compile time.
var _ memory.Index = (*Index)(nil)
