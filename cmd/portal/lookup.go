package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/lookup"
	"github.com/invitekit/contactsync/internal/ui"
)

var lookupCmd = &cobra.Command{
	Use:     "lookup <query>",
	GroupID: "contacts",
	Short:   "Find a saved contact by name or address",
	Long: `Search the local store for the first contact whose name ("first last") or
address ("street city province") contains the query, ignoring case.

Queries shorter than 3 characters are rejected. Use the reported identity with
'portal submit --id' to edit the contact.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cmd, appOptions{notifier: printNotices(), logQuiet: true})
		if err != nil {
			return err
		}
		defer a.Close()

		query := strings.Join(args, " ")
		entry, found, err := a.portal.Search(ctx, query)
		if errors.Is(err, lookup.ErrQueryTooShort) {
			return wrapExitError(ExitCommandError, "invalid query", err)
		}
		if err != nil {
			return wrapExitError(ExitCommandError, "lookup failed", err)
		}

		if jsonOutput {
			if !found {
				return outputJSON(map[string]any{"found": false})
			}
			return outputJSON(map[string]any{"found": true, "contact": entry})
		}
		if !found {
			return newExitError(ExitFailure, fmt.Sprintf("no contact matches %q", query))
		}
		printEntry(entry)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}

func printEntry(e contact.Entry) {
	state := ui.RenderWarn("pending")
	if e.Synced {
		state = ui.RenderPass("synced")
	}
	fmt.Printf("\n%s %s\n\n", ui.RenderAccent("👤"), ui.RenderBold(e.FullName()))
	fmt.Printf("ID:       %s\n", e.ID)
	fmt.Printf("Sync:     %s\n", state)
	if e.Email != "" {
		fmt.Printf("Email:    %s\n", e.Email)
	}
	if e.Phone != "" {
		fmt.Printf("Phone:    %s\n", e.Phone)
	}
	fmt.Printf("Address:  %s\n", e.StreetAddress)
	fmt.Printf("          %s, %s %s\n", e.City, e.State, e.PostalCode)
	fmt.Printf("Country:  %s\n", e.Country)
	fmt.Printf("Status:   %s\n", e.Status)
	if len(e.Tags) > 0 {
		fmt.Printf("Tags:     %v\n", e.Tags)
	}
	if e.Notes != "" {
		fmt.Printf("Notes:    %s\n", e.Notes)
	}
	fmt.Printf("Updated:  %s\n\n", e.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
}
