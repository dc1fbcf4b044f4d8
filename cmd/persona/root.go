package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "persona",
		Short: "Talk to an AI avatar that answers from your company documents",
		Long: `Talk to an AI avatar that answers from your company documents.

Answers are rendered as avatar video when possible and spoken with a
synthesized voice otherwise.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to persona.toml")

	rootCmd.AddCommand(
		newChatCmd(),
		newDocsCmd(),
		newSettingsCmd(),
		newMembersCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

func scopeFlags(cmd *cobra.Command, scope *string, company *string) {
	cmd.Flags().StringVar(scope, "scope", "", "conversation scope id")
	cmd.Flags().StringVar(company, "company", "", "company id, selects the company_<id> scope")
	cmd.MarkFlagsMutuallyExclusive("scope", "company")
	cmd.MarkFlagsOneRequired("scope", "company")
}
