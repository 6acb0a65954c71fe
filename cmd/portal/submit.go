package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/syncer"
	"github.com/invitekit/contactsync/internal/ui"
)

var submitCmd = &cobra.Command{
	Use:     "submit",
	GroupID: "contacts",
	Short:   "Save a contact and sync it when online",
	Long: `Save a contact to the local store. When the portal is online the contact
is pushed to the remote service right away; otherwise it stays queued until
connectivity returns.

Pass --id with the identity shown by 'portal lookup' to edit an existing
contact instead of creating a new one.

Examples:
  portal submit --first Ada --last Lovelace --street "1 Analytical Engine Way" \
      --city Toronto --state ON --postal "M5V 2T6"
  portal submit --interactive`,
	RunE: runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.String("id", "", "Identity of an existing contact to update")
	f.String("first", "", "First name")
	f.String("last", "", "Last name")
	f.String("email", "", "Email address")
	f.String("phone", "", "Phone number")
	f.String("street", "", "Street address")
	f.String("city", "", "City")
	f.String("state", "", "Province or state")
	f.String("postal", "", "Postal code")
	f.String("country", "", "Country (default: Canada)")
	f.String("status", "", "Status: active or inactive (default: active)")
	f.StringSlice("tag", nil, "Tags (repeatable)")
	f.String("notes", "", "Free-form notes")
	f.BoolP("interactive", "i", false, "Fill in the contact with an interactive form")

	rootCmd.AddCommand(submitCmd)
}

func contactFromFlags(cmd *cobra.Command) contact.Contact {
	f := cmd.Flags()
	get := func(name string) string {
		v, _ := f.GetString(name)
		return strings.TrimSpace(v)
	}
	tags, _ := f.GetStringSlice("tag")
	return contact.Contact{
		ID:            get("id"),
		FirstName:     get("first"),
		LastName:      get("last"),
		Email:         get("email"),
		Phone:         get("phone"),
		StreetAddress: get("street"),
		City:          get("city"),
		State:         get("state"),
		PostalCode:    get("postal"),
		Country:       get("country"),
		Status:        get("status"),
		Tags:          tags,
		Notes:         get("notes"),
	}
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c := contactFromFlags(cmd)

	interactive, _ := cmd.Flags().GetBool("interactive")
	if interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return newExitError(ExitCommandError, "--interactive requires a terminal")
		}
		if err := runContactForm(&c); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return newExitError(ExitFailure, "submission cancelled")
			}
			return wrapExitError(ExitCommandError, "form failed", err)
		}
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cmd, appOptions{notifier: printNotices(), logQuiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.portal.Submit(ctx, c)
	if err != nil {
		var ve *contact.ValidationError
		if errors.As(err, &ve) {
			if !jsonOutput {
				for field, msg := range ve.Fields {
					fmt.Fprintf(os.Stderr, "  %s %s: %s\n", ui.RenderFail("✗"), field, msg)
				}
			}
			return wrapExitError(ExitFailure, "contact not saved", err)
		}
		return wrapExitError(ExitCommandError, "contact not saved", err)
	}

	if jsonOutput {
		out := map[string]any{"id": result.ID, "synced": false}
		if result.Sync != nil {
			out["sync"] = result.Sync
			out["synced"] = result.SyncErr == nil && result.Sync.Status == syncer.StatusSynced
		}
		return outputJSON(out)
	}

	fmt.Printf("%s Saved contact %s\n", ui.RenderPass("✓"), result.ID)
	switch {
	case result.Sync == nil:
		fmt.Printf("   %s\n", ui.RenderMuted("Offline: the contact will sync when connectivity returns"))
	case result.SyncErr != nil:
		fmt.Printf("   %s %v\n", ui.RenderWarn("Sync incomplete:"), result.SyncErr)
	}
	return nil
}

// runContactForm prompts for every field, starting from the values
// already given on the command line.
func runContactForm(c *contact.Contact) error {
	c.ApplyDefaults()
	required := func(label string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", label)
			}
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("First name").Value(&c.FirstName).Validate(required("First name")),
			huh.NewInput().Title("Last name").Value(&c.LastName).Validate(required("Last name")),
			huh.NewInput().Title("Email").Value(&c.Email),
			huh.NewInput().Title("Phone").Value(&c.Phone),
		),
		huh.NewGroup(
			huh.NewInput().Title("Street address").Value(&c.StreetAddress).Validate(required("Street address")),
			huh.NewInput().Title("City").Value(&c.City).Validate(required("City")),
			huh.NewInput().Title("Province").Value(&c.State).Validate(required("Province")),
			huh.NewInput().Title("Postal code").Value(&c.PostalCode).Validate(required("Postal code")),
			huh.NewInput().Title("Country").Value(&c.Country),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Status").
				Options(huh.NewOptions(contact.StatusActive, contact.StatusInactive)...).
				Value(&c.Status),
			huh.NewText().Title("Notes").Value(&c.Notes),
		),
	)
	return form.Run()
}
