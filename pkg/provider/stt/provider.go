// Package stt defines the Provider interface for the transcription port: a
// single-shot PCM-to-text contract. Segmentation (when an utterance starts
// and ends) is the caller's responsibility — the session's input pipeline
// buffers audio and decides when a quiet window warrants a cut; by the time
// a provider sees a PCM buffer it represents one complete utterance.
//
// Implementations must be reentrant: concurrent calls to Transcribe on the
// same Provider must not interfere with one another.
package stt

import "context"

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts a 16-bit signed little-endian mono PCM buffer,
	// sampled at the provider's configured sample rate, into text.
	//
	// On failure it returns an empty string and a non-nil error; callers
	// that want the "never throws" contract described for the session's
	// input pipeline should discard the error and treat "" as no-result
	// rather than propagating it up as a fatal condition.
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}
