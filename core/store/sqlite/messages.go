package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-persona/core/conversations"
)

func (s *Store) Append(ctx context.Context, scope conversations.Scope, msg conversations.Message) (conversations.Ack, error) {
	ctx, span := tracer.Start(ctx, "append message")
	defer span.End()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	createdAt := now()
	if !msg.CreatedAt.IsZero() {
		createdAt = msg.CreatedAt.UTC().UnixNano()
	}

	videoURLs := msg.VideoURLs
	if videoURLs == nil {
		videoURLs = []string{}
	}
	videoURLsJSON, err := json.Marshal(videoURLs)
	if err != nil {
		return conversations.Ack{}, fmt.Errorf("failed to marshal video urls: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, scope, sender, text, transcript, video_url, video_urls_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, scope.String(), string(msg.Sender), msg.Text, msg.Transcript, msg.VideoURL, string(videoURLsJSON), createdAt,
	); err != nil {
		span.RecordError(err)
		return conversations.Ack{}, fmt.Errorf("failed to insert message: %w", err)
	}

	s.publishMessages(ctx, scope)
	return conversations.Ack{ID: msg.ID, StoredAt: fromUnixNano(createdAt)}, nil
}

// Subscribe delivers the current history right away and again after every
// append to scope.
func (s *Store) Subscribe(scope conversations.Scope, onChange func([]conversations.Message)) func() {
	unsubscribe := s.messageSubs.add(scope, onChange)

	history, err := s.History(context.Background(), scope)
	if err != nil {
		logger.Error("failed to load message history", "scope", scope.String(), "error", err)
		history = []conversations.Message{}
	}
	onChange(history)

	return unsubscribe
}

// History returns the messages of scope, oldest first.
func (s *Store) History(ctx context.Context, scope conversations.Scope) ([]conversations.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, text, transcript, video_url, video_urls_json, created_at
		FROM messages WHERE scope = ? ORDER BY seq`, scope.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []conversations.Message{}
	for rows.Next() {
		var (
			msg           conversations.Message
			sender        string
			videoURLsJSON string
			createdAt     int64
		)
		if err := rows.Scan(&msg.ID, &sender, &msg.Text, &msg.Transcript, &msg.VideoURL, &videoURLsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.ConversationID = scope
		msg.Sender = conversations.Sender(sender)
		msg.CreatedAt = fromUnixNano(createdAt)
		if err := json.Unmarshal([]byte(videoURLsJSON), &msg.VideoURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal video urls: %w", err)
		}
		if len(msg.VideoURLs) == 0 {
			msg.VideoURLs = nil
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) publishMessages(ctx context.Context, scope conversations.Scope) {
	if !s.messageSubs.has(scope) {
		return
	}
	history, err := s.History(ctx, scope)
	if err != nil {
		logger.Error("failed to reload message history", "scope", scope.String(), "error", err)
		return
	}
	s.messageSubs.notify(scope, history)
}
