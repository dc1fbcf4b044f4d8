package main

import (
	"encoding/json"
	"fmt"

	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/spf13/cobra"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change how the avatar looks and sounds",
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsSetCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	var scope, company string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the settings of a scope as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			settings, err := a.store.Settings(cmd.Context(), resolveScope(scope, company))
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(settings, "", "  ")
			if err != nil {
				return fmt.Errorf("error marshalling JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	scopeFlags(cmd, &scope, &company)
	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	var scope, company string
	var language, tone, gender, avatarURL, previewURL string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change settings of a scope",
		Long: `Change settings of a scope. Only the given flags change.

Examples:
  persona settings set --company acme --language hi --voice-gender male
  persona settings set --scope conv-1 --avatar-url https://cdn.example.com/face.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			target := resolveScope(scope, company)
			settings, err := a.store.Settings(cmd.Context(), target)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("language") {
				settings.Language = language
			}
			if flags.Changed("tone") {
				settings.Tone = tone
			}
			if flags.Changed("voice-gender") {
				switch conversations.VoiceGender(gender) {
				case conversations.VoiceGenderFemale, conversations.VoiceGenderMale:
					settings.VoiceGender = conversations.VoiceGender(gender)
				default:
					return conversations.NewValidationError("Voice gender must be female or male.")
				}
			}
			if flags.Changed("avatar-url") {
				settings.AvatarMediaURL = avatarURL
			}
			if flags.Changed("preview-url") {
				settings.AvatarPreviewImageURL = previewURL
			}

			if err := a.store.UpdateSettings(cmd.Context(), target, settings); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings updated")
			return nil
		},
	}
	scopeFlags(cmd, &scope, &company)
	cmd.Flags().StringVar(&language, "language", "", "answer language, e.g. en or hi")
	cmd.Flags().StringVar(&tone, "tone", "", "voice tone, e.g. friendly")
	cmd.Flags().StringVar(&gender, "voice-gender", "", "female or male")
	cmd.Flags().StringVar(&avatarURL, "avatar-url", "", "image or video of the avatar face")
	cmd.Flags().StringVar(&previewURL, "preview-url", "", "preview image of the avatar")
	return cmd
}
