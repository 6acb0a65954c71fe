package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/localstore"
	"github.com/invitekit/contactsync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "contacts",
	Short:   "List saved contacts",
	Long: `List contacts in the local store in the order they were first saved.

Examples:
  portal list --unsynced
  portal list --tag customer-added --since "2 days ago"
  portal list --format yaml`,
	RunE: runList,
}

func init() {
	f := listCmd.Flags()
	f.String("status", "", "Only contacts with this status")
	f.String("tag", "", "Only contacts carrying this tag")
	f.Bool("synced", false, "Only contacts already pushed to the remote service")
	f.Bool("unsynced", false, "Only contacts waiting to be pushed")
	f.String("since", "", `Only contacts updated since a time ("yesterday", "3 hours ago", RFC 3339)`)
	f.Int("limit", 0, "Maximum number of contacts (0 = all)")
	f.String("format", "text", "Output format: text, json or yaml")

	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	var filter localstore.Filter
	filter.Status, _ = f.GetString("status")
	filter.Tag, _ = f.GetString("tag")
	filter.Limit, _ = f.GetInt("limit")

	synced, _ := f.GetBool("synced")
	unsynced, _ := f.GetBool("unsynced")
	switch {
	case synced && unsynced:
		return newExitError(ExitCommandError, "--synced and --unsynced are mutually exclusive")
	case synced:
		filter.Synced = &synced
	case unsynced:
		v := false
		filter.Synced = &v
	}

	if since, _ := f.GetString("since"); since != "" {
		t, err := parseSince(since, time.Now())
		if err != nil {
			return wrapExitError(ExitCommandError, "invalid --since", err)
		}
		filter.Since = t
	}

	format, _ := f.GetString("format")
	if jsonOutput {
		format = "json"
	}
	switch format {
	case "text", "json", "yaml":
	default:
		return newExitError(ExitCommandError, fmt.Sprintf("unknown format %q (want text, json or yaml)", format))
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cmd, appOptions{logQuiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.store.List(ctx, filter)
	if err != nil {
		return wrapExitError(ExitCommandError, "failed to list contacts", err)
	}

	switch format {
	case "json":
		return outputJSON(entries)
	case "yaml":
		return outputYAML(entries)
	}

	if len(entries) == 0 {
		fmt.Println(ui.RenderMuted("No contacts found"))
		return nil
	}
	fmt.Print(ui.RenderTable([]string{"ID", "NAME", "CITY", "STATUS", "SYNC", "UPDATED"}, entryRows(entries)))
	return nil
}

func entryRows(entries []contact.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		sync := "pending"
		if e.Synced {
			sync = "synced"
		}
		rows = append(rows, []string{
			e.ID,
			e.FullName(),
			e.City,
			e.Status,
			sync,
			e.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

// parseSince accepts RFC 3339 timestamps, dates and natural language
// such as "2 days ago" or "last monday".
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	}
	return r.Time, nil
}

// entryYAML mirrors contact.Entry with YAML field names.
type entryYAML struct {
	ID            string    `yaml:"id"`
	FirstName     string    `yaml:"first_name"`
	LastName      string    `yaml:"last_name"`
	Email         string    `yaml:"email,omitempty"`
	Phone         string    `yaml:"phone,omitempty"`
	StreetAddress string    `yaml:"street_address"`
	City          string    `yaml:"city"`
	State         string    `yaml:"state"`
	PostalCode    string    `yaml:"postal_code"`
	Country       string    `yaml:"country"`
	Status        string    `yaml:"status"`
	Tags          []string  `yaml:"tags,omitempty"`
	Notes         string    `yaml:"notes,omitempty"`
	Synced        bool      `yaml:"synced"`
	CreatedAt     time.Time `yaml:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

func outputYAML(entries []contact.Entry) error {
	out := make([]entryYAML, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		out = append(out, entryYAML{
			ID:            e.ID,
			FirstName:     e.FirstName,
			LastName:      e.LastName,
			Email:         e.Email,
			Phone:         e.Phone,
			StreetAddress: e.StreetAddress,
			City:          e.City,
			State:         e.State,
			PostalCode:    e.PostalCode,
			Country:       e.Country,
			Status:        e.Status,
			Tags:          e.Tags,
			Notes:         e.Notes,
			Synced:        e.Synced,
			CreatedAt:     e.CreatedAt,
			UpdatedAt:     e.UpdatedAt,
		})
	}

	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	defer encoder.Close()
	if err := encoder.Encode(out); err != nil {
		return wrapExitError(ExitCommandError, "failed to encode YAML output", err)
	}
	return nil
}
