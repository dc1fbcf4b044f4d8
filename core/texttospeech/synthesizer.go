// Package texttospeech turns answer text into raw speech audio.
package texttospeech

import (
	"context"
	"iter"

	"github.com/koscakluka/ema-persona/core/audio"
	"github.com/koscakluka/ema-persona/core/conversations"
)

// Voice selects how the fallback voice sounds.
type Voice struct {
	Tone     string
	Gender   conversations.VoiceGender
	Language string
}

// VoiceFromSettings picks the voice matching the avatar settings of a scope.
func VoiceFromSettings(settings conversations.Settings) Voice {
	return Voice{
		Tone:     settings.Tone,
		Gender:   settings.VoiceGender,
		Language: settings.Language,
	}
}

// Synthesizer streams audio chunks for a text in the requested encoding.
// Cancelling ctx stops the synthesis, the sequence then ends with ctx's
// error.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice Voice, encoding audio.EncodingInfo) iter.Seq2[[]byte, error]
}
