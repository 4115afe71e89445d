package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/audio"
	"github.com/MrWong99/glyphoxa/pkg/provider/tts"
)

// loadingCacheKey is the content-addressed cache key the client stores the
// loading-audio clip under (spec.md §4.9: "key loading_v2").
const loadingCacheKey = "loading_v2"

// StreamRunner drives the agent-driven streaming reply path: a looped
// loading-audio clip plays on the client until the first real sentence is
// ready, at which point the server stops issuing cache_play messages and
// the client's loop falls silent on its own.
type StreamRunner struct {
	TTS tts.Client

	VoiceID string
	Emotion float64

	// LoadingAudio is the cached WAV clip played while the first sentence
	// is generating. Sent once per Begin as a fallback so first-ever play
	// (before the client has anything cached under loadingCacheKey) still
	// works.
	LoadingAudio []byte
}

// StreamContext tracks one in-flight streaming turn: the loading-audio
// loop's cancellation, whether a real sentence has been sent yet, and the
// time-to-first-audio once it has.
type StreamContext struct {
	sink          *Sink
	cancelLoading context.CancelFunc
	loadingDone   chan struct{}
	turnStart     time.Time

	mu                sync.Mutex
	firstSentenceSent bool
	ttfa              time.Duration
	nextIndex         int
}

// Begin tells the client to loop-play the loading clip from cache, starts
// the background loading-audio loop, and returns a StreamContext for the
// turn. The loop runs until StreamSentence's first
// success cancels it, or End cancels it because no sentence was ever sent.
func (r *StreamRunner) Begin(ctx context.Context, sink *Sink) *StreamContext {
	loadingCtx, cancel := context.WithCancel(ctx)
	sc := &StreamContext{
		sink:          sink,
		cancelLoading: cancel,
		loadingDone:   make(chan struct{}),
		turnStart:     time.Now(),
	}
	_ = sink.Enqueue(ctx, OutboundMessage{Type: "audio_cache_play", CacheKey: loadingCacheKey, Loop: true})
	go r.runLoadingLoop(loadingCtx, sink, sc)
	return sc
}

// runLoadingLoop sends the loading clip's bytes as a fallback for the
// cache_play that Begin has already enqueued, and blocks until ctx is
// cancelled. cache_play is never re-sent: the client loops it locally, so
// cancellation is simply "stop issuing the message", not "send a stop".
func (r *StreamRunner) runLoadingLoop(ctx context.Context, sink *Sink, sc *StreamContext) {
	defer close(sc.loadingDone)

	if len(r.LoadingAudio) > 0 {
		msg := OutboundMessage{
			Type:     "audio_cache_store",
			CacheKey: loadingCacheKey,
			Data:     base64.StdEncoding.EncodeToString(r.LoadingAudio),
		}
		if pcm, err := audio.Parse(r.LoadingAudio); err == nil {
			msg.SampleRate = pcm.SampleRate
			msg.Channels = pcm.Channels
			msg.DurationMs = pcmDurationMs(pcm)
		}
		_ = sink.Enqueue(ctx, msg)
	}

	<-ctx.Done()
}

// StreamSentence synthesizes one agent-produced sentence and enqueues it.
// On the first successful sentence of the turn, it cancels the loading
// loop and records time-to-first-audio. total_sentences is always 0
// (unknown ahead of time in streaming mode).
func (r *StreamRunner) StreamSentence(ctx context.Context, sc *StreamContext, text string) error {
	wav, err := r.TTS.Synth(ctx, text, r.VoiceID, r.Emotion)
	if err != nil {
		return fmt.Errorf("pipeline: synth: %w", err)
	}

	pcm, err := audio.Parse(wav)
	if err != nil {
		return fmt.Errorf("pipeline: parse wav: %w", err)
	}

	sc.mu.Lock()
	if !sc.firstSentenceSent {
		sc.firstSentenceSent = true
		sc.ttfa = time.Since(sc.turnStart)
		sc.cancelLoading()
	}
	idx := sc.nextIndex
	sc.nextIndex++
	sc.mu.Unlock()

	return sc.sink.Enqueue(ctx, OutboundMessage{
		Type:           "audio_sentence",
		Data:           base64.StdEncoding.EncodeToString(wav),
		SentenceIndex:  idx,
		TotalSentences: 0,
		DurationMs:     pcmDurationMs(pcm),
		SampleRate:     pcm.SampleRate,
	})
}

// End cancels the loading loop if it is still running (no sentence was
// ever produced), waits for it to finish, and emits response_complete.
func (r *StreamRunner) End(ctx context.Context, sc *StreamContext) error {
	sc.mu.Lock()
	sent := sc.firstSentenceSent
	sc.mu.Unlock()
	if !sent {
		sc.cancelLoading()
	}
	<-sc.loadingDone

	return sc.sink.Enqueue(ctx, OutboundMessage{Type: "response_complete"})
}

// TTFA returns the turn's time-to-first-audio, or zero if no sentence has
// been sent yet.
func (sc *StreamContext) TTFA() time.Duration {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.ttfa
}
