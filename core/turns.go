package orchestration

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-persona/core/conversations"
)

// Turn is one user/AI exchange. It is owned by the orchestrator while in
// flight and must be treated as read-only once SubmitTurn returns it.
type Turn struct {
	ID    string
	Scope conversations.Scope

	Text   string
	Prompt string
	Answer string

	VideoRefs []string
	// Audio is set when the answer is played through the speech fallback.
	Audio bool

	UserMessageID string
	AIMessageID   string

	StartedAt   time.Time
	AnsweredAt  time.Time
	PersistedAt time.Time
}

func newTurn(scope conversations.Scope, text string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Scope:     scope,
		Text:      text,
		StartedAt: time.Now(),
	}
}

// enrichPrompt joins the non-empty context sections and the user text, in
// that order, separated by blank lines. Without any context the prompt is
// the user text alone.
func enrichPrompt(documentContext string, attachmentContext string, text string) string {
	sections := make([]string, 0, 3)
	if documentContext = strings.TrimSpace(documentContext); documentContext != "" {
		sections = append(sections, documentContext)
	}
	if attachmentContext = strings.TrimSpace(attachmentContext); attachmentContext != "" {
		sections = append(sections, "Attached content context:\n"+attachmentContext)
	}
	if len(sections) == 0 {
		return text
	}
	sections = append(sections, "User query:\n"+text)
	return strings.Join(sections, "\n\n")
}

func copyHistory(history []conversations.Message) []conversations.Message {
	if len(history) == 0 {
		return nil
	}

	snapshot := make([]conversations.Message, 0, len(history))
	if err := copier.CopyWithOption(&snapshot, history, copier.Option{DeepCopy: true}); err != nil {
		logger.Warn("failed to deep copy history, falling back to shallow copy", "error", err)
		return append([]conversations.Message(nil), history...)
	}
	return snapshot
}
