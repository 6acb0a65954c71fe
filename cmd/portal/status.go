package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invitekit/contactsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show connectivity, last sync and queue size",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cmd, appOptions{logQuiet: true})
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.portal.Status(ctx)
		if err != nil {
			return wrapExitError(ExitCommandError, "failed to read status", err)
		}

		if jsonOutput {
			return outputJSON(map[string]any{
				"status":       st,
				"store":        a.cfg.StorePath,
				"remote":       redactDSN(a.cfg.Remote.DSN),
				"connectivity": a.cfg.Connectivity.Mode,
			})
		}

		online := ui.RenderWarn("offline")
		if st.Online {
			online = ui.RenderPass("online")
		}
		lastSync := ui.RenderMuted("never")
		if st.HasLastSync {
			lastSync = st.LastSync.Local().Format("2006-01-02 15:04:05")
		}

		fmt.Printf("\n%s Portal Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Connectivity: %s (%s)\n", online, a.cfg.Connectivity.Mode)
		fmt.Printf("Last sync:    %s\n", lastSync)
		fmt.Printf("Contacts:     %d\n", st.Total)
		fmt.Printf("Pending:      %d\n", st.Unsynced)
		fmt.Printf("Store:        %s\n", a.cfg.StorePath)
		fmt.Printf("Remote:       %s\n", redactDSN(a.cfg.Remote.DSN))
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
