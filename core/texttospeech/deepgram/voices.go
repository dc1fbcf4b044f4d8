package deepgram

import (
	"strings"

	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/koscakluka/ema-persona/core/texttospeech"
)

type deepgramVoice string

const defaultVoice deepgramVoice = "aura-2-thalia-en"

type voiceKey struct {
	language string
	gender   conversations.VoiceGender
	tone     string
}

var voices = map[voiceKey]deepgramVoice{
	{"en", conversations.VoiceGenderFemale, ""}:             "aura-2-thalia-en",
	{"en", conversations.VoiceGenderMale, ""}:               "aura-2-apollo-en",
	{"en", conversations.VoiceGenderFemale, "professional"}: "aura-2-athena-en",
	{"en", conversations.VoiceGenderMale, "professional"}:   "aura-2-orion-en",
	{"en", conversations.VoiceGenderFemale, "calm"}:         "aura-2-luna-en",
	{"en", conversations.VoiceGenderMale, "calm"}:           "aura-2-arcas-en",
	{"es", conversations.VoiceGenderFemale, ""}:             "aura-2-celeste-es",
	{"es", conversations.VoiceGenderMale, ""}:               "aura-2-nestor-es",
}

// voiceModel picks the most specific model for the voice, falling back from
// tone to gender to language.
func voiceModel(voice texttospeech.Voice) string {
	language := strings.ToLower(voice.Language)
	if language == "" {
		language = "en"
	}
	gender := voice.Gender
	if gender == "" {
		gender = conversations.VoiceGenderFemale
	}
	tone := strings.ToLower(voice.Tone)

	for _, key := range []voiceKey{
		{language, gender, tone},
		{language, gender, ""},
		{"en", gender, tone},
		{"en", gender, ""},
	} {
		if model, ok := voices[key]; ok {
			return string(model)
		}
	}
	return string(defaultVoice)
}
