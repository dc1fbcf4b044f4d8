package conversations

import (
	"context"
	"strings"
	"time"
)

// Scope identifies the conversation or company context a turn belongs to. It
// decides which documents, settings and message history apply.
type Scope string

const companyScopePrefix = "company_"

// CompanyScope returns the scope used for a company-wide conversation.
func CompanyScope(companyID string) Scope {
	return Scope(companyScopePrefix + companyID)
}

func (s Scope) String() string { return string(s) }

// CompanyID reports the company a scope belongs to, if it is a company scope.
func (s Scope) CompanyID() (string, bool) {
	return strings.CutPrefix(string(s), companyScopePrefix)
}

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Message is a single persisted entry of a conversation.
type Message struct {
	ID             string
	ConversationID Scope
	Sender         Sender
	Text           string

	// Transcript is what the avatar (or the fallback voice) says, it is only
	// set on AI messages.
	Transcript string
	VideoURL   string
	VideoURLs  []string

	CreatedAt time.Time
}

// HasVideo reports whether the message carries at least one playable clip.
func (m Message) HasVideo() bool {
	return m.Sender == SenderAI && (m.VideoURL != "" || len(m.VideoURLs) > 0)
}

// VideoRefs returns all clips of the message in playback order.
func (m Message) VideoRefs() []string {
	if len(m.VideoURLs) > 0 {
		return append([]string(nil), m.VideoURLs...)
	}
	if m.VideoURL != "" {
		return []string{m.VideoURL}
	}
	return nil
}

type Ack struct {
	ID       string
	StoredAt time.Time
}

// MessageStore persists messages and notifies subscribers about changes.
//
// Subscribers receive the full ordered (oldest first) message list of the
// scope every time it changes, including once right after subscribing.
type MessageStore interface {
	Append(ctx context.Context, scope Scope, message Message) (Ack, error)
	Subscribe(scope Scope, onChange func([]Message)) (unsubscribe func())
}
