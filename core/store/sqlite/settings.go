package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/koscakluka/ema-persona/core/conversations"
)

func (s *Store) UpdateSettings(ctx context.Context, scope conversations.Scope, settings conversations.Settings) error {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (scope, settings_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET settings_json = excluded.settings_json, updated_at = excluded.updated_at`,
		scope.String(), string(settingsJSON), now(),
	); err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}

	s.settingsSubs.notify(scope, settings)
	return nil
}

// Settings returns the stored settings of scope, or the defaults when none
// were stored yet.
func (s *Store) Settings(ctx context.Context, scope conversations.Scope) (conversations.Settings, error) {
	var settingsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT settings_json FROM settings WHERE scope = ?`, scope.String()).Scan(&settingsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return conversations.DefaultSettings(), nil
	} else if err != nil {
		return conversations.Settings{}, fmt.Errorf("failed to query settings: %w", err)
	}

	settings := conversations.DefaultSettings()
	if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
		return conversations.Settings{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return settings, nil
}

func (s *Store) SubscribeSettings(scope conversations.Scope, onChange func(conversations.Settings)) func() {
	unsubscribe := s.settingsSubs.add(scope, onChange)

	settings, err := s.Settings(context.Background(), scope)
	if err != nil {
		logger.Error("failed to load settings", "scope", scope.String(), "error", err)
		settings = conversations.DefaultSettings()
	}
	onChange(settings)

	return unsubscribe
}
