package context

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/memory"
)

// TimeProvider fills "time_context" with the local time, weekday, and a
// coarse time-of-day bucket (late night/morning/afternoon/evening/night).
type TimeProvider struct {
	// Now returns the current time. Defaults to time.Now if nil.
	Now func() time.Time
}

func (p *TimeProvider) Key() string   { return "time_context" }
func (p *TimeProvider) Priority() int { return 0 }

func (p *TimeProvider) GetContext(_ context.Context, _ Request) (string, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	t := now()
	return fmt.Sprintf("Current time: %s (%s), %s.",
		t.Format("15:04"), t.Weekday().String(), timeBucket(t.Hour())), nil
}

func timeBucket(hour int) string {
	switch {
	case hour < 5:
		return "late night"
	case hour < 12:
		return "morning"
	case hour < 17:
		return "afternoon"
	case hour < 21:
		return "evening"
	default:
		return "night"
	}
}

// ConversationProvider fills "conversation_context" with a short summary of
// the conversation so far. Suppressed (returns "") before the conversation's
// third turn, since there isn't yet enough history to be worth the tokens.
type ConversationProvider struct {
	// MinTurn is the first TurnIndex this provider contributes at. Defaults
	// to 3 when zero (spec.md: "suppressed until turn ≥ 3").
	MinTurn int
}

func (p *ConversationProvider) Key() string   { return "conversation_context" }
func (p *ConversationProvider) Priority() int { return 10 }

func (p *ConversationProvider) GetContext(_ context.Context, req Request) (string, error) {
	minTurn := p.MinTurn
	if minTurn == 0 {
		minTurn = 3
	}
	if req.TurnIndex < minTurn {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Earlier in this conversation:\n")
	for _, m := range req.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", capitalize(m.Role), m.Content)
	}
	return strings.TrimSpace(sb.String()), nil
}

// MemoryProvider fills "memory_context" by querying the memory service
// (spec.md §4.6) with a time-decayed search scoped to past exchanges.
type MemoryProvider struct {
	Service        *memory.Service
	ConversationID string
	DecayOptions   memory.DecayOptions
}

func (p *MemoryProvider) Key() string   { return "memory_context" }
func (p *MemoryProvider) Priority() int { return 20 }

func (p *MemoryProvider) GetContext(ctx context.Context, req Request) (string, error) {
	if p.Service == nil || strings.TrimSpace(req.UserMessage) == "" {
		return "", nil
	}

	filter := memory.Filter{Types: []string{"exchange"}}
	results, err := p.Service.SearchWithTimeDecay(ctx, req.UserMessage, p.DecayOptions, filter)
	if err != nil {
		return "", fmt.Errorf("memory context: search: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Relevant memories from past conversations:\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "- %s\n", r.Entry.Content)
	}
	return strings.TrimSpace(sb.String()), nil
}

// capitalize upper-cases the first byte of s, leaving the rest untouched.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var _ Provider = (*TimeProvider)(nil)
var _ Provider = (*ConversationProvider)(nil)
var _ Provider = (*MemoryProvider)(nil)
