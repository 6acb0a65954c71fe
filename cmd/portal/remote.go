package main

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/remote"
	"github.com/invitekit/contactsync/internal/ui"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "advanced",
	Short:   "Inspect and manage records on the remote service",
	Long: `Administrative access to the remote contact service configured with
--remote or remote.dsn. These commands bypass the local store.`,
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remote records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := remoteFromConfig(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		records, err := svc.List(cmd.Context())
		if err != nil {
			return wrapExitError(ExitFailure, "failed to list remote records", err)
		}
		return printRecords(records)
	},
}

var remoteSearchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search remote records by name, email, city or province",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := remoteFromConfig(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		records, err := svc.Search(cmd.Context(), args[0])
		if err != nil {
			return wrapExitError(ExitFailure, "failed to search remote records", err)
		}
		return printRecords(records)
	},
}

var remoteDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a remote record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := remoteFromConfig(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := svc.Delete(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				return wrapExitError(ExitFailure, fmt.Sprintf("record %s not found", args[0]), err)
			}
			return wrapExitError(ExitFailure, "failed to delete remote record", err)
		}
		if jsonOutput {
			return outputJSON(map[string]any{"deleted": args[0]})
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

func init() {
	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteSearchCmd)
	remoteCmd.AddCommand(remoteDeleteCmd)
	rootCmd.AddCommand(remoteCmd)
}

func remoteFromConfig(cmd *cobra.Command) (remote.RecordService, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	svc, err := openRemote(cfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if closer, ok := svc.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
	return svc, closeFn, nil
}

func printRecords(records []contact.Contact) error {
	if jsonOutput {
		return outputJSON(records)
	}
	if len(records) == 0 {
		fmt.Println(ui.RenderMuted("No remote records"))
		return nil
	}
	rows := make([][]string, 0, len(records))
	for i := range records {
		r := &records[i]
		rows = append(rows, []string{
			r.ID,
			r.FullName(),
			r.Email,
			r.City,
			r.State,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	fmt.Print(ui.RenderTable([]string{"ID", "NAME", "EMAIL", "CITY", "PROVINCE", "CREATED"}, rows))
	return nil
}

// redactDSN hides credentials in a DSN for display.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	return u.Redacted()
}
