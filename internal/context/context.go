// Package context builds the system prompt for each new conversation from a
// declarative slice of context providers, in the style of
// internal/hotctx's concurrent capability-interface assembly — generalized
// here from a tabletop NPC's hot layer into a single-session voice
// assistant's system prompt template fill.
package context

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/glyphoxa/pkg/types"
)

// Request carries everything a Provider may need to produce its context
// fragment.
type Request struct {
	Now         func() (local string, weekday string, bucket string)
	UserMessage string
	Messages    []types.Message // the conversation's message log so far
	TurnIndex   int             // 0-based index of the turn about to run
}

// Provider is a named, prioritized source of one system-prompt fragment.
// GetContext returns ("", nil) to contribute nothing for this request.
type Provider interface {
	// Key is the template placeholder this provider fills, e.g. "time_context"
	// for a template containing "{{time_context}}".
	Key() string

	// Priority orders the builder's provider list ascending; ties break on
	// Key for determinism. Build still runs all providers concurrently.
	Priority() int

	// GetContext produces this provider's fragment for req, or ("", nil) to
	// contribute nothing.
	GetContext(ctx context.Context, req Request) (string, error)
}

// placeholderPattern matches "{{identifier}}" placeholders in a template.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// excessNewlines collapses three or more consecutive newlines to two.
var excessNewlines = regexp.MustCompile(`\n{3,}`)

// Builder fills a system-prompt template from a fixed set of providers.
type Builder struct {
	template  string
	providers []Provider
}

// NewBuilder returns a Builder over template, sorting providers by
// ascending Priority (ties broken by Key).
func NewBuilder(template string, providers ...Provider) *Builder {
	sorted := make([]Provider, len(providers))
	copy(sorted, providers)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority() != sorted[j].Priority() {
			return sorted[i].Priority() < sorted[j].Priority()
		}
		return sorted[i].Key() < sorted[j].Key()
	})
	return &Builder{template: template, providers: sorted}
}

// Build runs every provider concurrently, substitutes each matching
// placeholder with its non-empty output (removing placeholders whose
// provider returned empty), strips any remaining unmatched placeholders,
// and collapses runs of three-or-more newlines to two.
//
// A provider error is logged and treated the same as an empty result — it
// never fails the build.
func (b *Builder) Build(ctx context.Context, req Request) string {
	fragments := make(map[string]string, len(b.providers))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range b.providers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := p.GetContext(ctx, req)
			if err != nil {
				slog.Warn("context provider failed", "key", p.Key(), "error", err)
				out = ""
			}
			mu.Lock()
			fragments[p.Key()] = out
			mu.Unlock()
		}()
	}
	wg.Wait()

	filled := placeholderPattern.ReplaceAllStringFunc(b.template, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		return strings.TrimSpace(fragments[key])
	})

	return excessNewlines.ReplaceAllString(filled, "\n\n")
}
