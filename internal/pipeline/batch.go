package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/MrWong99/glyphoxa/pkg/audio"
	"github.com/MrWong99/glyphoxa/pkg/provider/tts"
)

// defaultLeadingSilenceMs is the padding prepended to every synthesized
// sentence (spec.md §4.9: "pad with 150 ms leading silence").
const defaultLeadingSilenceMs = 150

// BatchRunner drives the non-agent reply path: split a complete reply into
// sentences, synthesize each, optionally retime it against the next
// sentence's estimated generation time, and enqueue one audio_sentence
// message per sentence.
type BatchRunner struct {
	TTS   tts.Client
	Tempo audio.TempoFilter

	VoiceID string
	Emotion float64

	// AvgMsPerChar, MinTempo, MaxTempo tune the tempo heuristic; zero means
	// use the package defaults.
	AvgMsPerChar       float64
	MinTempo, MaxTempo float64

	// LeadingSilenceMs overrides defaultLeadingSilenceMs when positive.
	LeadingSilenceMs int
}

// Run synthesizes reply sentence-by-sentence onto sink, finishing with a
// response_complete message. It returns the first synthesis or enqueue
// error encountered, having already enqueued every sentence before it.
func (b *BatchRunner) Run(ctx context.Context, sink *Sink, reply string) error {
	sentences := splitIntoSentences(reply)

	for i, text := range sentences {
		wav, err := b.TTS.Synth(ctx, text, b.VoiceID, b.Emotion)
		if err != nil {
			return fmt.Errorf("pipeline: synth sentence %d: %w", i, err)
		}

		pcm, err := audio.Parse(wav)
		if err != nil {
			return fmt.Errorf("pipeline: parse sentence %d wav: %w", i, err)
		}

		tempo := 1.0
		if i+1 < len(sentences) {
			tempo = tempoFor(pcmDurationMs(pcm), len(sentences[i+1]), b.AvgMsPerChar, b.MinTempo, b.MaxTempo)
			if adjusted, err := b.Tempo.AdjustTempo(ctx, wav, tempo); err == nil {
				wav = adjusted
				if reparsed, err := audio.Parse(wav); err == nil {
					pcm = reparsed
				}
			}
		}

		padded, err := audio.PrependSilence(wav, b.leadingSilenceMs())
		if err != nil {
			padded = wav
		}

		msg := OutboundMessage{
			Type:           "audio_sentence",
			Data:           base64.StdEncoding.EncodeToString(padded),
			SentenceIndex:  i,
			TotalSentences: len(sentences),
			DurationMs:     pcmDurationMs(pcm),
			SampleRate:     pcm.SampleRate,
			TempoApplied:   tempo,
		}
		if err := sink.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("pipeline: enqueue sentence %d: %w", i, err)
		}
	}

	return sink.Enqueue(ctx, OutboundMessage{Type: "response_complete"})
}

func (b *BatchRunner) leadingSilenceMs() int {
	if b.LeadingSilenceMs > 0 {
		return b.LeadingSilenceMs
	}
	return defaultLeadingSilenceMs
}
