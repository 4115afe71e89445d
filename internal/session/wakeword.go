package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// wakeWordPrompt is the narrow classification prompt sent to the fast
// model (spec.md §4.10: "accounting for phonetic near-misses and STT
// errors").
const wakeWordPrompt = `You are a wake-word detector for a voice assistant named %q. Given a transcribed utterance, answer only YES or NO: does it sound like someone addressing the assistant by that name, allowing for speech-to-text misspellings and phonetically similar words? Reply with exactly one word, YES or NO.

Utterance: %q`

// WakeWordClassifier decides whether a transcription addresses the
// configured wake word, using a narrow LLM prompt rather than fixed string
// matching so STT misspellings and near-homophones still trigger
// activation.
type WakeWordClassifier struct {
	LLM      llm.Provider
	WakeWord string
}

// Classify returns true if text appears to address the wake word. Any LLM
// failure is treated as a negative classification rather than propagated,
// since a missed activation is recoverable (the user just repeats
// themselves) while a hard error here would otherwise abort the turn.
func (w *WakeWordClassifier) Classify(ctx context.Context, text string) bool {
	resp, err := w.LLM.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{
			{Role: "user", Content: fmt.Sprintf(wakeWordPrompt, w.WakeWord, text)},
		},
		Temperature: 0,
		MaxTokens:   8,
	})
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToUpper(resp.Content), "YES")
}

// stripWakeWord removes a leading mention of the wake word from text
// (case-insensitive), along with any immediately following punctuation and
// whitespace, so the remainder can be handed to the agent as the user's
// actual request.
func stripWakeWord(text, wakeWord string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	wake := strings.ToLower(wakeWord)

	idx := strings.Index(lower, wake)
	if idx != 0 {
		return trimmed
	}

	rest := trimmed[len(wakeWord):]
	rest = strings.TrimLeft(rest, " \t,.!?-")
	return rest
}
