package toolruntime

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/glyphoxa/pkg/types"
)

// entry pairs a registered tool's definition with its handler.
type entry struct {
	def    types.ToolDefinition
	handle Handler
	serial bool
}

// Registry holds the set of tools discoverable from the compiled binary.
// Lookup is case-insensitive; names are otherwise stored and returned
// exactly as registered.
//
// The zero value is ready to use. Safe for concurrent use, but in practice
// the registry is populated once at startup and treated as read-only
// thereafter (see spec's "no global mutable state except ... the tool
// registry (read-only after init)").
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry // key: strings.ToLower(name)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds d to the registry. It returns an error if d.Definition.Name
// is empty, d.Handler is nil, or a tool with the same name
// (case-insensitive) is already registered.
func (r *Registry) Register(d Descriptor) error {
	if d.Definition.Name == "" {
		return fmt.Errorf("toolruntime: tool definition must have a non-empty name")
	}
	if d.Handler == nil {
		return fmt.Errorf("toolruntime: tool %q must have a non-nil handler", d.Definition.Name)
	}

	key := strings.ToLower(d.Definition.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("toolruntime: tool %q is already registered", d.Definition.Name)
	}
	r.entries[key] = entry{def: d.Definition, handle: d.Handler, serial: d.Serial}
	return nil
}

// Tools returns the LLM-facing definitions of every registered tool,
// sorted by name for deterministic prompt ordering.
func (r *Registry) Tools() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// lookup returns the entry registered under name, case-insensitively.
func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.ToLower(name)]
	return e, ok
}
