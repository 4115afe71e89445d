// Package tts defines the Client interface for the TTS microservice: a
// single-shot text-to-WAV synthesis contract backed by voice caching,
// multi-endpoint health-probed failover, and a circuit breaker per
// endpoint — see pkg/provider/tts/httptts for the concrete implementation.
package tts

import "context"

// Client is the abstraction over the external TTS microservice.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Synth synthesizes text into a WAV file using the named voice at the
	// given emotional intensity (0 = neutral, 1 = maximum). voiceID may be
	// empty to use the endpoint's default voice.
	Synth(ctx context.Context, text string, voiceID string, emotion float64) ([]byte, error)
}

// VoiceStore supplies the raw reference audio bytes for a named voice. The
// Client hashes these bytes to derive the stable cache key it uploads to
// each TTS endpoint.
type VoiceStore interface {
	// Reference returns the reference audio bytes for voiceID. Returns an
	// error if the voice is unknown.
	Reference(voiceID string) ([]byte, error)
}
