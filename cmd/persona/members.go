package main

import (
	"fmt"

	"github.com/koscakluka/ema-persona/core/members"
	"github.com/spf13/cobra"
)

func newMembersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Manage who belongs to a company",
	}
	cmd.AddCommand(newMembersAddCmd(), newMembersListCmd())
	return cmd
}

func newMembersAddCmd() *cobra.Command {
	var company string

	cmd := &cobra.Command{
		Use:   "add EMAIL",
		Short: "Add a member to a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := members.NewService(a.store).Add(cmd.Context(), company, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", args[0], company)
			return nil
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "company id")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func newMembersListCmd() *cobra.Command {
	var company string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the members of a company",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			emails, err := a.store.Members(cmd.Context(), company)
			if err != nil {
				return err
			}
			for _, email := range emails {
				fmt.Fprintln(cmd.OutOrStdout(), email)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "company id")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}
