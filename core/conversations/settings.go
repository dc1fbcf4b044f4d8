package conversations

import "context"

type VoiceGender string

const (
	VoiceGenderFemale VoiceGender = "female"
	VoiceGenderMale   VoiceGender = "male"
)

// Settings drive how the avatar looks and sounds in a scope. The turn
// pipeline only reads them.
type Settings struct {
	Language              string      `json:"language"`
	Tone                  string      `json:"tone"`
	VoiceGender           VoiceGender `json:"voiceGender"`
	AvatarMediaURL        string      `json:"avatarMediaUrl"`
	AvatarPreviewImageURL string      `json:"avatarPreviewImageUrl"`
}

func DefaultSettings() Settings {
	return Settings{
		Language:    "en",
		Tone:        "friendly",
		VoiceGender: VoiceGenderFemale,
	}
}

// SettingsStore keeps per-scope settings. Settings only change through
// UpdateSettings.
type SettingsStore interface {
	UpdateSettings(ctx context.Context, scope Scope, settings Settings) error
	SubscribeSettings(scope Scope, onChange func(Settings)) (unsubscribe func())
}
