// Package mock provides test doubles for tts.Client and tts.VoiceStore.
//
// Example:
//
//	voices := &mock.VoiceStore{References: map[string][]byte{"nyxie": []byte("wav bytes")}}
//	client := &mock.Client{SynthResult: []byte("wav bytes")}
//	wav, _ := client.Synth(ctx, "hello", "nyxie", 0.5)
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/glyphoxa/pkg/provider/tts"
)

// SynthCall records a single invocation of Synth.
type SynthCall struct {
	Text    string
	VoiceID string
	Emotion float64
}

// Client is a mock implementation of tts.Client.
type Client struct {
	mu sync.Mutex

	// SynthResult is returned by Synth.
	SynthResult []byte

	// SynthErr, if non-nil, is returned as the error from Synth.
	SynthErr error

	// SynthCalls records every call to Synth in order.
	SynthCalls []SynthCall
}

// Synth records the call and returns SynthResult, SynthErr.
func (c *Client) Synth(_ context.Context, text, voiceID string, emotion float64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SynthCalls = append(c.SynthCalls, SynthCall{Text: text, VoiceID: voiceID, Emotion: emotion})
	if c.SynthErr != nil {
		return nil, c.SynthErr
	}
	return c.SynthResult, nil
}

// Reset clears all recorded calls. Thread-safe.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SynthCalls = nil
}

// Ensure Client implements tts.Client at compile time.
var _ tts.Client = (*Client)(nil)

// VoiceStore is a mock implementation of tts.VoiceStore backed by an
// in-memory map of voiceID -> reference audio bytes.
type VoiceStore struct {
	References map[string][]byte
}

// Reference returns the reference audio bytes for voiceID, or an error if
// unknown.
func (s *VoiceStore) Reference(voiceID string) ([]byte, error) {
	ref, ok := s.References[voiceID]
	if !ok {
		return nil, fmt.Errorf("mock: unknown voice %q", voiceID)
	}
	return ref, nil
}

// Ensure VoiceStore implements tts.VoiceStore at compile time.
var _ tts.VoiceStore = (*VoiceStore)(nil)
