package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/invitekit/contactsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "contacts",
	Short:   "Import contacts from a JSONL file",
	Long: `Import contacts from a JSON Lines file, one contact per line, using the
same field names as 'portal export'. Use "-" to read standard input.

Imported contacts are validated like submissions and queued for sync.
Records that fail validation are skipped and reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if args[0] != "-" {
			// #nosec G304 - path from the command line
			file, err := os.Open(args[0])
			if err != nil {
				return wrapExitError(ExitCommandError, "failed to open import file", err)
			}
			defer file.Close()
			in = file
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, cmd, appOptions{logQuiet: true})
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.portal.Import(ctx, in)
		if err != nil {
			return wrapExitError(ExitFailure, "import failed", err)
		}

		if jsonOutput {
			return outputJSON(map[string]any{
				"records":  result.Records,
				"imported": len(result.IDs),
				"ids":      result.IDs,
				"skipped":  result.Skipped,
			})
		}

		fmt.Printf("%s Imported %d of %d records\n", ui.RenderPass("✓"), len(result.IDs), result.Records)
		for _, s := range result.Skipped {
			fmt.Printf("   %s %s\n", ui.RenderWarn("skipped"), s)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:     "export [file.jsonl]",
	GroupID: "contacts",
	Short:   "Export all contacts as JSONL",
	Long:    `Write every contact in the local store as JSON Lines to a file, or to standard output.`,
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cmd, appOptions{logQuiet: true})
		if err != nil {
			return err
		}
		defer a.Close()

		var out io.Writer = os.Stdout
		if len(args) == 1 && args[0] != "-" {
			// #nosec G304 - path from the command line
			file, err := os.Create(args[0])
			if err != nil {
				return wrapExitError(ExitCommandError, "failed to create export file", err)
			}
			defer file.Close()
			out = file
		}

		n, err := a.store.Export(ctx, out)
		if err != nil {
			return wrapExitError(ExitFailure, "export failed", err)
		}
		if out != os.Stdout {
			fmt.Fprintf(os.Stderr, "%s Exported %d contacts to %s\n", ui.RenderPass("✓"), n, args[0])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
