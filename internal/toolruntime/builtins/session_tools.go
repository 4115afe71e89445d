package builtins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/glyphoxa/internal/toolruntime"
)

// SetVolumeParams is the parameter shape for set_volume.
type SetVolumeParams struct {
	Value    int  `json:"value" jsonschema_description:"The volume value: 0-100 if absolute, or a delta if relative."`
	Relative bool `json:"relative,omitempty" jsonschema_description:"If true, value is added to the current volume instead of replacing it."`
}

// NewSetVolume returns the set_volume tool descriptor. It acts on the
// ambient Session bound to the call's context via toolruntime.WithSession.
func NewSetVolume() toolruntime.Descriptor {
	handler := func(ctx context.Context, jsonArgs string) (string, error) {
		var params SetVolumeParams
		if err := json.Unmarshal([]byte(jsonArgs), &params); err != nil {
			return "", fmt.Errorf("%w: %v", toolruntime.ErrInvalidInput, err)
		}

		sess := toolruntime.SessionFromContext(ctx)
		if sess == nil {
			return "", fmt.Errorf("%w: no active session to set volume on", toolruntime.ErrDenied)
		}

		if err := sess.SetVolume(params.Value, params.Relative); err != nil {
			return "", fmt.Errorf("set volume: %w", err)
		}
		return "volume updated", nil
	}

	return toolruntime.Descriptor{
		Definition: toolDefinition("set_volume",
			"Changes the client's playback volume, absolutely or relative to its current level.",
			&SetVolumeParams{}),
		Handler: handler,
	}
}

// EndConversationParams is the parameter shape for end_conversation. It
// takes no arguments but still reflects to an empty object schema so the
// LLM sees a well-formed, zero-required-field tool.
type EndConversationParams struct{}

// NewEndConversation returns the end_conversation tool descriptor. It
// requests that the owning session wind down after the current turn
// completes. Marked Serial since ending the conversation should not race
// with any other tool call in the same batch.
func NewEndConversation() toolruntime.Descriptor {
	handler := func(ctx context.Context, _ string) (string, error) {
		sess := toolruntime.SessionFromContext(ctx)
		if sess == nil {
			return "", fmt.Errorf("%w: no active session to end", toolruntime.ErrDenied)
		}
		sess.RequestEnd()
		return "conversation ending", nil
	}

	return toolruntime.Descriptor{
		Definition: toolDefinition("end_conversation",
			"Ends the current voice conversation after this turn finishes speaking.",
			&EndConversationParams{}),
		Handler: handler,
		Serial:  true,
	}
}
