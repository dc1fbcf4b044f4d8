package gooey

import (
	"strings"

	"github.com/koscakluka/ema-persona/core/conversations"
)

// splitClips groups whole sentences into clips of at most maxChars runes. A
// single sentence longer than maxChars becomes a clip of its own.
func splitClips(text string, maxChars int) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	clips := []string{}
	var current strings.Builder
	currentLen := 0
	for _, sentence := range sentences(text) {
		sentenceLen := len([]rune(sentence))
		if currentLen > 0 && currentLen+1+sentenceLen > maxChars {
			clips = append(clips, current.String())
			current.Reset()
			currentLen = 0
		}
		if currentLen > 0 {
			current.WriteByte(' ')
			currentLen++
		}
		current.WriteString(sentence)
		currentLen += sentenceLen
	}
	if currentLen > 0 {
		clips = append(clips, current.String())
	}

	return clips
}

func sentences(text string) []string {
	result := []string{}
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if !isSentenceEnd(r) {
			continue
		}
		if i+1 < len(runes) && runes[i+1] != ' ' {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			result = append(result, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		result = append(result, s)
	}
	return result
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '।':
		return true
	}
	return false
}

var voices = map[string]map[conversations.VoiceGender]string{
	"en": {
		conversations.VoiceGenderFemale: "en-US-Neural2-F",
		conversations.VoiceGenderMale:   "en-US-Neural2-D",
	},
	"hi": {
		conversations.VoiceGenderFemale: "hi-IN-Neural2-A",
		conversations.VoiceGenderMale:   "hi-IN-Neural2-B",
	},
	"es": {
		conversations.VoiceGenderFemale: "es-US-Neural2-A",
		conversations.VoiceGenderMale:   "es-US-Neural2-B",
	},
	"fr": {
		conversations.VoiceGenderFemale: "fr-FR-Neural2-A",
		conversations.VoiceGenderMale:   "fr-FR-Neural2-B",
	},
}

func voiceName(language string, gender conversations.VoiceGender) string {
	byGender, ok := voices[strings.ToLower(language)]
	if !ok {
		byGender = voices["en"]
	}
	if name, ok := byGender[gender]; ok {
		return name
	}
	return byGender[conversations.VoiceGenderFemale]
}
