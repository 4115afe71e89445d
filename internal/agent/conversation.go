package agent

import (
	"sync"

	"github.com/MrWong99/glyphoxa/pkg/types"
)

// Conversation is the append-only message log for one active voice session
// (spec.md §5: "strictly append-only and totally ordered within one
// session"). It additionally tracks whether a system prompt has been
// installed and how many turns have run, so [Agent.ProcessStream] can
// install the system prompt exactly once and hand providers an accurate
// TurnIndex.
//
// Conversation is safe for concurrent use; in practice only one turn runs
// at a time per conversation; the lock exists so callers elsewhere (UI,
// logging) can safely read the log while a turn is in flight.
type Conversation struct {
	// ID identifies the conversation for memory persistence (pkg/memory).
	ID string

	mu                    sync.Mutex
	messages              []types.Message
	systemPromptInstalled bool
	turnIndex             int
}

// NewConversation returns an empty Conversation identified by id.
func NewConversation(id string) *Conversation {
	return &Conversation{ID: id}
}

// Messages returns a copy of the conversation's message log so far.
func (c *Conversation) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Conversation) snapshotLocked() []types.Message {
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// append adds msg to the end of the log.
func (c *Conversation) append(msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// beginTurn returns whether a system prompt still needs to be installed and
// the 0-based index of the turn about to run, then advances the turn
// counter. It must be called exactly once per turn, before any messages for
// that turn are appended.
func (c *Conversation) beginTurn() (needsSystemPrompt bool, turnIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	needsSystemPrompt = !c.systemPromptInstalled
	turnIndex = c.turnIndex
	c.turnIndex++
	return needsSystemPrompt, turnIndex
}

// installSystemPrompt prepends a system message carrying prompt, unless one
// has already been installed. Safe to call even when beginTurn reported
// needsSystemPrompt == false; it becomes a no-op.
func (c *Conversation) installSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.systemPromptInstalled {
		return
	}
	sys := types.Message{Role: "system", Content: prompt}
	c.messages = append([]types.Message{sys}, c.messages...)
	c.systemPromptInstalled = true
}
