package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/provider/stt"
)

// defaultDebounce is the "waiting for more" window after an utterance is
// transcribed (spec.md §4.10).
const defaultDebounce = 200 * time.Millisecond

// InputState is one of the three states of the per-session input pipeline.
type InputState int

const (
	// Idle: no speech buffered, nothing queued.
	Idle InputState = iota
	// Listening: an utterance is being captured into the audio buffer.
	Listening
	// WaitingForMore: at least one utterance has been transcribed and
	// queued; the debounce timer is running to see if more speech follows.
	WaitingForMore
)

// ReadyFunc is invoked once the debounce window elapses with no further
// speech, combining every queued utterance with spaces.
type ReadyFunc func(text string, pipelineElapsed time.Duration)

// InputPipeline owns one session's input state machine: it buffers raw PCM
// audio, transcribes complete utterances, and debounces a run of several
// utterances into a single combined turn.
//
// Follows internal/session/reconnect.go's state-machine-with-timer style
// (a mutex-protected state field plus a cancellable timer driving
// transitions from a background goroutine), with a private utterance queue
// that debouncing merges into one turn.
//
// All methods are safe for concurrent use.
type InputPipeline struct {
	stt      stt.Provider
	debounce time.Duration
	onReady  ReadyFunc

	mu          sync.Mutex
	state       InputState
	buffer      []byte
	queue       []string
	turnStart   time.Time
	timer       *time.Timer
	timerCancel chan struct{}
	stopped     bool
	wg          sync.WaitGroup
}

// NewInputPipeline constructs an InputPipeline. debounce <= 0 uses
// defaultDebounce.
func NewInputPipeline(provider stt.Provider, debounce time.Duration, onReady ReadyFunc) *InputPipeline {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &InputPipeline{stt: provider, debounce: debounce, onReady: onReady, state: Idle}
}

// AudioChunk appends a raw PCM chunk to the buffer. From Idle it starts
// Listening and cancels any pending debounce timer; from Listening or
// WaitingForMore it simply appends (WaitingForMore also cancels the
// debounce timer and falls back to Listening, since more speech arrived).
func (p *InputPipeline) AudioChunk(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer = append(p.buffer, pcm...)
	if p.state != Listening {
		p.cancelTimerLocked()
		p.state = Listening
	}
}

// EndSpeech snapshots and resets the buffer, starts the pipeline stopwatch,
// and transcribes the utterance. Transcription runs on its own goroutine so
// it never blocks the caller (normally the connection's inbound reader);
// the audio buffer is already reset by the time this returns, so further
// AudioChunk calls begin capturing the next utterance concurrently with
// this one's transcription.
func (p *InputPipeline) EndSpeech(ctx context.Context) {
	p.mu.Lock()
	if p.state != Listening || len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	pcm := p.buffer
	p.buffer = nil
	// turnStart marks the first utterance of this combined turn; later
	// utterances folded in by the debounce window don't push it forward.
	if p.turnStart.IsZero() {
		p.turnStart = time.Now()
	}
	turnStart := p.turnStart
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.transcribe(ctx, pcm, turnStart)
	}()
}

func (p *InputPipeline) transcribe(ctx context.Context, pcm []byte, turnStart time.Time) {
	text, err := p.stt.Transcribe(ctx, pcm)
	if err != nil {
		slog.Warn("session: transcription failed", "error", err)
		text = ""
	}
	text = strings.TrimSpace(text)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}

	if text == "" {
		if len(p.queue) == 0 {
			p.state = Idle
			p.turnStart = time.Time{}
		}
		return
	}

	p.queue = append(p.queue, text)
	p.state = WaitingForMore
	p.turnStart = turnStart
	p.resetTimerLocked()
}

// resetTimerLocked starts (or restarts) the debounce timer. Must be called
// with p.mu held.
func (p *InputPipeline) resetTimerLocked() {
	p.cancelTimerLocked()
	cancel := make(chan struct{})
	p.timerCancel = cancel
	turnStart := p.turnStart
	p.wg.Add(1)
	p.timer = time.AfterFunc(p.debounce, func() {
		defer p.wg.Done()
		p.fireDebounce(cancel, turnStart)
	})
}

// cancelTimerLocked stops any running debounce timer. Must be called with
// p.mu held. If Stop reports the timer was cancelled before it fired, its
// AfterFunc body (and the wg.Done it owes) never runs, so the count is
// released here instead.
func (p *InputPipeline) cancelTimerLocked() {
	if p.timer != nil {
		if p.timer.Stop() {
			p.wg.Done()
		}
		p.timer = nil
	}
	if p.timerCancel != nil {
		close(p.timerCancel)
		p.timerCancel = nil
	}
}

// fireDebounce runs when the debounce window elapses without further
// speech. cancel lets a superseding AudioChunk/resetTimerLocked call
// invalidate a timer that already fired concurrently with being stopped.
func (p *InputPipeline) fireDebounce(cancel chan struct{}, turnStart time.Time) {
	p.mu.Lock()
	select {
	case <-cancel:
		p.mu.Unlock()
		return
	default:
	}
	if p.stopped {
		p.mu.Unlock()
		return
	}

	combined := strings.Join(p.queue, " ")
	p.queue = nil
	p.state = Idle
	p.timer = nil
	p.timerCancel = nil
	p.turnStart = time.Time{}
	p.mu.Unlock()

	if p.onReady != nil {
		p.onReady(combined, time.Since(turnStart))
	}
}

// State returns the pipeline's current state. Intended for tests and
// diagnostics.
func (p *InputPipeline) State() InputState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stop marks the pipeline as torn down and blocks until every in-flight
// transcription and debounce firing has observed that and returned without
// invoking onReady. The Connection Handler calls this before closing the
// outbound sink onReady ultimately writes to, so a transcription that
// finishes just as the client disconnects can never enqueue onto a closed
// sink.
func (p *InputPipeline) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cancelTimerLocked()
	p.mu.Unlock()
	p.wg.Wait()
}
