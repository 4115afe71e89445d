// Package session owns the per-connection voice session: the input
// pipeline's state machine, wake-word activation, the live Conversation,
// and deactivation — spec.md §4.10.
//
// It also still carries the teacher's ContextManager/Summariser context-
// window helpers and Reconnector, adapted onto the current message types
// but not yet wired into Session itself; see DESIGN.md.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/internal/agent"
	"github.com/MrWong99/glyphoxa/internal/pipeline"
	"github.com/MrWong99/glyphoxa/internal/toolruntime"
	"github.com/MrWong99/glyphoxa/pkg/memory"
)

// defaultDeactivationPhrase matches spec.md §4.10's literal example.
const defaultDeactivationPhrase = "done for now"

// Config configures a Session's activation behavior and canned responses.
type Config struct {
	// WakeWord is the assistant's name, used both by the wake-word
	// classifier and to strip a leading address from the activating
	// utterance.
	WakeWord string

	// DeactivationPhrase overrides defaultDeactivationPhrase when set.
	// Matched case-insensitively as a substring.
	DeactivationPhrase string

	// ActivationGreeting is spoken when activation leaves no remaining
	// text to hand to the agent (the user said only the wake word).
	ActivationGreeting string

	// FarewellText is spoken through the response pipeline on
	// deactivation.
	FarewellText string

	// VoiceID and Emotion are passed through to the response pipeline's
	// synthesis calls for canned (non-agent) utterances.
	VoiceID string
	Emotion float64
}

func (c Config) deactivationPhrase() string {
	if c.DeactivationPhrase != "" {
		return c.DeactivationPhrase
	}
	return defaultDeactivationPhrase
}

// Session is the per-connection owner of activation state, the input
// pipeline, and the live Conversation. It implements toolruntime.Session
// so tools can adjust playback volume or request that the session wind
// down.
//
// Session state (active, conv, deactivationRequested) is mutated only
// from HandleUtterance, which the Connection Handler must invoke
// sequentially for one session — matching spec.md §5's "session state is
// mutated only from within the session's owning task" rule. SetVolume and
// RequestEnd are the exception: they're called from tool-execution
// goroutines and are synchronized with their own mutex/atomic.
type Session struct {
	ID string

	cfg      Config
	pipeline *InputPipeline
	wake     *WakeWordClassifier
	agentRef *agent.Agent
	stream   *pipeline.StreamRunner
	batch    *pipeline.BatchRunner
	sink     *pipeline.Sink
	mem      *memory.Service

	mu                    sync.Mutex
	active                bool
	conv                  *agent.Conversation
	deactivationRequested bool
}

// Deps bundles the collaborators a Session wires together.
type Deps struct {
	Agent  *agent.Agent
	Stream *pipeline.StreamRunner
	Batch  *pipeline.BatchRunner
	Sink   *pipeline.Sink
	Wake   *WakeWordClassifier
	Memory *memory.Service
}

// New constructs a Session without an InputPipeline. Callers build the
// InputPipeline separately via NewInputPipeline with s.HandleUtterance as
// its ReadyFunc and attach it with AttachPipeline, because Go has no way to
// reference a method value before the receiver exists.
func New(id string, cfg Config, deps Deps) *Session {
	return &Session{
		ID:       id,
		cfg:      cfg,
		agentRef: deps.Agent,
		stream:   deps.Stream,
		batch:    deps.Batch,
		sink:     deps.Sink,
		wake:     deps.Wake,
		mem:      deps.Memory,
	}
}

// AttachPipeline wires an InputPipeline built with s.HandleUtterance as its
// ReadyFunc. Call once, after construction.
func (s *Session) AttachPipeline(p *InputPipeline) {
	s.pipeline = p
}

// Pipeline returns the attached InputPipeline, for the Connection Handler
// to forward audio_chunk/end_speech messages into.
func (s *Session) Pipeline() *InputPipeline {
	return s.pipeline
}

// Active reports whether the session currently has a live Conversation.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetVolume implements toolruntime.Session by forwarding a volume change
// to the client.
func (s *Session) SetVolume(value int, relative bool) error {
	return s.sink.Enqueue(context.Background(), pipeline.OutboundMessage{
		Type: "volume", Value: value, Relative: relative,
	})
}

// RequestEnd implements toolruntime.Session. It only raises a flag;
// HandleUtterance checks it after the agent turn completes and performs
// the actual deactivation, matching spec.md §4.10's "deactivation-on-tool"
// rule ("after an agent turn").
func (s *Session) RequestEnd() {
	s.mu.Lock()
	s.deactivationRequested = true
	s.mu.Unlock()
}

var _ toolruntime.Session = (*Session)(nil)

// HandleUtterance is the InputPipeline's ReadyFunc: it implements spec.md
// §4.10's response-dispatch logic (deactivation phrase, active-turn
// processing, wake-word activation).
func (s *Session) HandleUtterance(text string, pipelineElapsed time.Duration) {
	ctx := context.Background()
	slog.Info("session: utterance ready", "session_id", s.ID, "pipeline_elapsed", pipelineElapsed)

	if strings.Contains(strings.ToLower(text), strings.ToLower(s.cfg.deactivationPhrase())) {
		s.mu.Lock()
		wasActive := s.active
		s.mu.Unlock()
		if !wasActive {
			return
		}
		s.deactivate(ctx)
		s.sendStatus(ctx, "deactivated")
		if s.cfg.FarewellText != "" {
			if err := s.batch.Run(ctx, s.sink, s.cfg.FarewellText); err != nil {
				slog.Warn("session: farewell synthesis failed", "error", err)
			}
		}
		return
	}

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if active {
		s.runTurn(ctx, text)
		return
	}

	if s.wake == nil || !s.wake.Classify(ctx, text) {
		s.sendStatus(ctx, "inactive")
		return
	}

	s.activate()
	s.sendStatus(ctx, "active")

	remainder := stripWakeWord(text, s.cfg.WakeWord)
	if remainder == "" {
		if s.cfg.ActivationGreeting != "" {
			if err := s.batch.Run(ctx, s.sink, s.cfg.ActivationGreeting); err != nil {
				slog.Warn("session: greeting synthesis failed", "error", err)
			}
		}
		return
	}
	s.runTurn(ctx, remainder)
}

// runTurn drives one agent turn in streaming mode, with the ambient
// session/sink scope installed so any tool call can reach SetVolume or
// RequestEnd. It checks the deactivation-on-tool flag once the turn
// finishes.
func (s *Session) runTurn(ctx context.Context, text string) {
	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if conv == nil {
		return
	}

	turnCtx := toolruntime.WithSession(ctx, s)
	chunks, err := s.agentRef.ProcessStream(turnCtx, conv, text)
	if err != nil {
		slog.Error("session: agent turn failed to start", "error", err)
		return
	}

	sc := s.stream.Begin(turnCtx, s.sink)
	for chunk := range chunks {
		switch chunk.Kind {
		case agent.ChunkSentence:
			if err := s.stream.StreamSentence(turnCtx, sc, chunk.Text); err != nil {
				slog.Warn("session: stream sentence failed", "error", err)
			}
		case agent.ChunkToolExecuting:
			slog.Debug("session: tool executing", "tool", chunk.ToolName)
		case agent.ChunkComplete:
		}
	}
	if err := s.stream.End(turnCtx, sc); err != nil {
		slog.Warn("session: stream end failed", "error", err)
	}

	s.mu.Lock()
	deactivationRequested := s.deactivationRequested
	s.deactivationRequested = false
	s.mu.Unlock()
	if deactivationRequested {
		s.deactivate(ctx)
		s.sendStatus(ctx, "deactivated")
	}
}

// activate creates a fresh Conversation, marking the session active.
func (s *Session) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.conv = agent.NewConversation(fmt.Sprintf("%s-%d", s.ID, time.Now().UnixNano()))
}

// deactivate disposes the current Conversation, persisting its messages to
// memory, and marks the session inactive.
func (s *Session) deactivate(ctx context.Context) {
	s.mu.Lock()
	conv := s.conv
	s.active = false
	s.conv = nil
	s.mu.Unlock()

	if conv == nil || s.mem == nil {
		return
	}
	if err := s.persistConversation(ctx, conv); err != nil {
		slog.Warn("session: memory persistence failed on deactivation", "error", err)
	}
}

// persistConversation writes every user/assistant exchange in conv to
// long-term memory. Writes happen only after disposal (spec.md §5:
// "Memory writes for a conversation are all issued after disposal").
func (s *Session) persistConversation(ctx context.Context, conv *agent.Conversation) error {
	messages := conv.Messages()
	entries := make([]memory.Entry, 0, len(messages))
	now := time.Now()
	for i, msg := range messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		entries = append(entries, memory.Entry{
			ID:             fmt.Sprintf("%s-%d", conv.ID, i),
			Content:        fmt.Sprintf("%s: %s", msg.Role, msg.Content),
			CreatedAt:      now,
			Type:           "exchange",
			ConversationID: conv.ID,
			SessionID:      s.ID,
			Metadata:       map[string]string{"turn_index": fmt.Sprintf("%d", i)},
		})
	}
	if len(entries) == 0 {
		return nil
	}
	return s.mem.AddBatch(ctx, entries)
}

func (s *Session) sendStatus(ctx context.Context, status string) {
	if err := s.sink.Enqueue(ctx, pipeline.OutboundMessage{Type: "status", Status: status}); err != nil {
		slog.Warn("session: status send failed", "status", status, "error", err)
	}
}
