package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	ctxbuilder "github.com/MrWong99/glyphoxa/internal/context"
	"github.com/MrWong99/glyphoxa/internal/toolruntime"
	"github.com/MrWong99/glyphoxa/pkg/memory"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// DefaultMaxToolRounds bounds the per-turn round loop (spec.md §4.8).
const DefaultMaxToolRounds = 10

// defaultChunkBuffer sizes the channel returned by ProcessStream. Small and
// non-zero so a turn that emits faster than its consumer reads still makes
// progress without unbounded buffering.
const defaultChunkBuffer = 16

// memoryPreambleFilter restricts the per-turn memory search to past
// exchanges, matching internal/context's MemoryProvider.
var memoryPreambleFilter = memory.Filter{Types: []string{"exchange"}}

// Agent owns the streaming turn loop: it streams the LLM, buffers emitted
// text into sentences, executes any requested tools, and loops until the
// model stops calling tools or MaxToolRounds is exceeded. It is the
// generalization of the teacher's per-NPC engine→buffer→tool loop
// (internal/engine/cascade, internal/agent/npc.go HandleUtterance) into a
// single conversational session with no NPC identity or scene concept.
//
// Agent holds no per-conversation state; a single Agent instance can drive
// any number of concurrent Conversations.
type Agent struct {
	// LLM is the chat-completion backend used for every round.
	LLM llm.Provider

	// Tools lists the tool definitions offered to the model each round. Nil
	// means no tools are offered.
	Tools *toolruntime.Registry

	// Executor runs tool calls the model requests. Required whenever Tools
	// is non-nil.
	Executor *toolruntime.Executor

	// ContextBuilder produces the system prompt installed on a
	// conversation's first turn. Nil skips system-prompt installation.
	ContextBuilder *ctxbuilder.Builder

	// Memory, if non-nil, is searched once per turn for a preamble of past
	// exchanges relevant to the user's message (spec.md §4.8 step 2).
	Memory      *memory.Service
	MemoryDecay memory.DecayOptions

	// MaxToolRounds overrides DefaultMaxToolRounds when positive.
	MaxToolRounds int

	// ChunkBuffer overrides defaultChunkBuffer when positive.
	ChunkBuffer int
}

// ProcessStream runs one turn of conv: installing the system prompt if
// this is the conversation's first turn, searching memory for a relevant
// preamble, then entering the round loop. It returns immediately with a
// channel of AgentChunk values; the turn runs in a background goroutine
// and the channel is closed after a ChunkComplete is sent (or earlier, on
// an unrecoverable per-turn error).
func (a *Agent) ProcessStream(ctx context.Context, conv *Conversation, userMessage string) (<-chan AgentChunk, error) {
	if conv == nil {
		return nil, errors.New("agent: conversation must not be nil")
	}

	a.prepareTurn(ctx, conv, userMessage)

	buf := a.ChunkBuffer
	if buf <= 0 {
		buf = defaultChunkBuffer
	}
	out := make(chan AgentChunk, buf)
	go a.runRounds(ctx, conv, out)
	return out, nil
}

// prepareTurn implements spec.md §4.8 steps 1–2: install the system prompt
// on the conversation's first turn, then append the user's message — with
// a memory-search preamble prepended when the search returns results.
func (a *Agent) prepareTurn(ctx context.Context, conv *Conversation, userMessage string) {
	needsSystemPrompt, turnIndex := conv.beginTurn()

	if needsSystemPrompt && a.ContextBuilder != nil {
		prompt := a.ContextBuilder.Build(ctx, ctxbuilder.Request{
			UserMessage: userMessage,
			Messages:    conv.Messages(),
			TurnIndex:   turnIndex,
		})
		conv.installSystemPrompt(prompt)
	}

	conv.append(types.Message{Role: "user", Content: a.withMemoryPreamble(ctx, userMessage)})
}

// withMemoryPreamble searches Memory for entries relevant to userMessage
// and, if any are found, prepends them as a labelled preamble ahead of the
// original message. A search failure is logged and treated as no results —
// it never blocks the turn.
func (a *Agent) withMemoryPreamble(ctx context.Context, userMessage string) string {
	if a.Memory == nil || strings.TrimSpace(userMessage) == "" {
		return userMessage
	}

	results, err := a.Memory.SearchWithTimeDecay(ctx, userMessage, a.MemoryDecay, memoryPreambleFilter)
	if err != nil {
		slog.Warn("agent: memory preamble search failed", "error", err)
		return userMessage
	}
	if len(results) == 0 {
		return userMessage
	}

	var sb strings.Builder
	sb.WriteString("[Relevant memories from past conversations]\n")
	for _, r := range results {
		sb.WriteString(r.Entry.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\n[Current message]\n")
	sb.WriteString(userMessage)
	return sb.String()
}

// runRounds drives the bounded round loop and always closes out exactly
// once. A final ChunkComplete precedes the close unless ctx was cancelled.
func (a *Agent) runRounds(ctx context.Context, conv *Conversation, out chan<- AgentChunk) {
	defer close(out)

	maxRounds := a.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}

	for round := 0; round < maxRounds; round++ {
		done, err := a.runRound(ctx, conv, out)
		if err != nil {
			slog.Error("agent: round failed", "round", round, "error", err)
			sendChunk(ctx, out, AgentChunk{Kind: ChunkComplete})
			return
		}
		if done {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}

	slog.Warn("agent: exceeded max tool rounds", "max", maxRounds)
	sendChunk(ctx, out, AgentChunk{Kind: ChunkComplete})
}

// runRound executes one iteration of the round loop (spec.md §4.8 step 3):
// it opens an LLM stream, emits sentences as they complete, and either
// finishes the turn (done == true) or executes requested tools and
// reports done == false so the loop continues.
func (a *Agent) runRound(ctx context.Context, conv *Conversation, out chan<- AgentChunk) (done bool, err error) {
	req := llm.CompletionRequest{Messages: conv.Messages()}
	if a.Tools != nil {
		req.Tools = a.Tools.Tools()
	}

	stream, err := a.LLM.StreamCompletion(ctx, req)
	if err != nil {
		return false, fmt.Errorf("agent: stream completion: %w", err)
	}

	var sentenceBuf strings.Builder
	var contentBuf strings.Builder
	var reasoning []types.ReasoningDetail
	toolCalls := make(map[string]types.ToolCall)
	var toolOrder []string
	chunkCount := 0

	for chunk := range stream {
		chunkCount++

		if chunk.Text != "" {
			sentenceBuf.WriteString(chunk.Text)
			contentBuf.WriteString(chunk.Text)
			for _, s := range extractSentences(&sentenceBuf) {
				if !sendChunk(ctx, out, AgentChunk{Kind: ChunkSentence, Text: s}) {
					return false, ctx.Err()
				}
			}
		}

		if len(chunk.ReasoningDetails) > 0 {
			reasoning = append(reasoning, chunk.ReasoningDetails...)
		}

		for _, tc := range chunk.ToolCalls {
			key := tc.ID
			if key == "" {
				key = fmt.Sprintf("__noid_%d", len(toolOrder))
			}
			if _, seen := toolCalls[key]; !seen {
				toolOrder = append(toolOrder, key)
			}
			toolCalls[key] = tc
		}
	}

	if chunkCount == 0 {
		slog.Error("agent: llm stream closed with no chunks")
		sendChunk(ctx, out, AgentChunk{Kind: ChunkComplete})
		return true, nil
	}

	if rem := strings.TrimSpace(sentenceBuf.String()); rem != "" {
		if !sendChunk(ctx, out, AgentChunk{Kind: ChunkSentence, Text: rem}) {
			return false, ctx.Err()
		}
	}

	calls := make([]types.ToolCall, 0, len(toolOrder))
	for _, key := range toolOrder {
		tc := toolCalls[key]
		if tc.ID == "" || tc.Name == "" {
			continue
		}
		if strings.TrimSpace(tc.Arguments) == "" {
			tc.Arguments = "{}"
		}
		calls = append(calls, tc)
	}

	if len(calls) == 0 {
		conv.append(types.Message{
			Role:             "assistant",
			Content:          contentBuf.String(),
			ReasoningDetails: reasoning,
		})
		sendChunk(ctx, out, AgentChunk{Kind: ChunkComplete})
		return true, nil
	}

	conv.append(types.Message{
		Role:             "assistant",
		Content:          contentBuf.String(),
		ToolCalls:        calls,
		ReasoningDetails: reasoning,
	})

	for _, c := range calls {
		if !sendChunk(ctx, out, AgentChunk{Kind: ChunkToolExecuting, ToolName: c.Name}) {
			return false, ctx.Err()
		}
	}

	if a.Executor == nil {
		return false, errors.New("agent: tool calls requested but no Executor configured")
	}

	results := a.Executor.Execute(ctx, calls)
	for _, r := range results {
		conv.append(types.Message{
			Role:       "tool",
			Content:    r.ForLlm(),
			ToolCallID: r.ToolCallID,
		})
	}

	return false, nil
}

// sendChunk sends c on out, returning false instead of blocking forever if
// ctx is cancelled first.
func sendChunk(ctx context.Context, out chan<- AgentChunk, c AgentChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
