// Package llms holds what the language model backends share: the turn
// representation of a conversation and the persona instructions.
package llms

import (
	"fmt"
	"strings"

	"github.com/koscakluka/ema-persona/core/conversations"
)

type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// Turn is a single exchange entry sent to the model as history.
type Turn struct {
	Role    TurnRole
	Content string
}

// TurnsFromHistory converts stored messages into model turns, keeping at
// most the last limit messages. A limit of zero or less keeps everything.
//
// Messages without text are skipped. AI messages are represented by what the
// avatar said.
func TurnsFromHistory(history []conversations.Message, limit int) []Turn {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	turns := make([]Turn, 0, len(history))
	for _, msg := range history {
		switch msg.Sender {
		case conversations.SenderUser:
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			turns = append(turns, Turn{Role: TurnRoleUser, Content: msg.Text})
		case conversations.SenderAI:
			content := msg.Transcript
			if content == "" {
				content = msg.Text
			}
			if strings.TrimSpace(content) == "" {
				continue
			}
			turns = append(turns, Turn{Role: TurnRoleAssistant, Content: content})
		}
	}
	return turns
}

var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
}

// Instructions builds the system prompt of the avatar persona.
func Instructions(settings conversations.Settings) string {
	language := languageNames[strings.ToLower(settings.Language)]
	if language == "" {
		language = settings.Language
	}
	if language == "" {
		language = "English"
	}
	tone := settings.Tone
	if tone == "" {
		tone = conversations.DefaultSettings().Tone
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful company assistant speaking through a video avatar.\n")
	fmt.Fprintf(&sb, "Always answer in %s with a %s tone.\n", language, tone)
	sb.WriteString("Your answer is read out loud, so use short plain sentences without markdown, lists or emojis.\n")
	sb.WriteString("Use the provided company documents and attached content when they are relevant. ")
	sb.WriteString("If they do not contain the answer, say so instead of guessing.")
	return sb.String()
}
