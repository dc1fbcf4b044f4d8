package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/koscakluka/ema-persona/core/documents"
	"github.com/spf13/cobra"
)

func newDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage the documents answers are grounded on",
	}
	cmd.AddCommand(newDocsAddCmd(), newDocsListCmd(), newDocsWatchCmd())
	return cmd
}

func newDocsAddCmd() *cobra.Command {
	var scope, company, title, uploadedBy string

	cmd := &cobra.Command{
		Use:   "add FILE",
		Short: "Upload a text document",
		Long: `Upload a text document to a scope.

The title defaults to the file name without its extension.

Examples:
  persona docs add --company acme refunds.md
  persona docs add --scope conv-1 --title "Shipping" shipping.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.documentService(cmd.Context())
			if err != nil {
				return err
			}
			doc, err := service.Add(cmd.Context(), resolveScope(scope, company), title, string(content), uploadedBy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %q (%s)\n", doc.Title, doc.ID)
			return nil
		},
	}
	scopeFlags(cmd, &scope, &company)
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().StringVar(&uploadedBy, "uploaded-by", os.Getenv("USER"), "who uploaded the document")
	return cmd
}

func newDocsListCmd() *cobra.Command {
	var scope, company string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the documents of a scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			docs, err := a.store.Documents(cmd.Context(), resolveScope(scope, company))
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No documents")
				return nil
			}
			for _, doc := range docs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%d chars, by %s)\n", doc.ID, doc.Title, len(doc.Content), doc.UploadedBy)
			}
			return nil
		},
	}
	scopeFlags(cmd, &scope, &company)
	return cmd
}

func newDocsWatchCmd() *cobra.Command {
	var scope, company string

	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Upload .md and .txt files from a directory as they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.documentService(cmd.Context())
			if err != nil {
				return err
			}
			watcher, err := documents.NewWatcher(service, resolveScope(scope, company), args[0],
				documents.WithUploadCallback(func(doc conversations.Document) {
					fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %q\n", doc.Title)
				}),
			)
			if err != nil {
				return err
			}
			if err := watcher.Start(cmd.Context()); err != nil {
				return err
			}
			defer watcher.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s, press Ctrl+C to stop\n", args[0])
			<-cmd.Context().Done()
			return nil
		},
	}
	scopeFlags(cmd, &scope, &company)
	return cmd
}
