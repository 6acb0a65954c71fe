package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/invitekit/contactsync/internal/connectivity"
	"github.com/invitekit/contactsync/internal/syncer"
	"github.com/invitekit/contactsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push unsynced contacts to the remote service",
	Long: `Push every contact that has not reached the remote service yet.

Contacts are pushed one at a time. A contact that fails to push stays queued
and is retried by the next sync; the others are still pushed. Only one sync
runs at a time. When the portal is offline the request is declined.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cmd, appOptions{notifier: printNotices(), logQuiet: true})
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.portal.ManualSync(ctx)
		if errors.Is(err, connectivity.ErrOffline) {
			return wrapExitError(ExitOffline, "sync declined", err)
		}

		if jsonOutput {
			if jerr := outputJSON(syncResultJSON(result, err)); jerr != nil {
				return jerr
			}
		} else {
			printSyncResult(result)
		}

		if err != nil {
			return wrapExitError(ExitFailure, "sync incomplete", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func syncResultJSON(result syncer.Result, err error) map[string]any {
	failed := make([]map[string]string, 0, len(result.Failed))
	for _, f := range result.Failed {
		failed = append(failed, map[string]string{"id": f.ID, "error": f.Err.Error()})
	}
	out := map[string]any{
		"status":     result.Status,
		"pushed":     result.Pushed,
		"superseded": result.Superseded,
		"failed":     failed,
		"duration":   result.Duration().String(),
	}
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}

func printSyncResult(result syncer.Result) {
	switch result.Status {
	case syncer.StatusAlreadyRunning:
		fmt.Printf("%s A sync is already in progress\n", ui.RenderWarn("⚠"))
	case syncer.StatusNothingToSync:
		// The notice already said so
	case syncer.StatusSynced:
		fmt.Printf("   Pushed: %d in %v\n", len(result.Pushed), result.Duration().Round(time.Millisecond))
		if n := len(result.Superseded); n > 0 {
			fmt.Printf("   %s %d edited during the push, queued for the next sync\n", ui.RenderWarn("⚠"), n)
		}
	case syncer.StatusFailed:
		fmt.Printf("   Pushed: %d\n", len(result.Pushed))
		fmt.Printf("   Failed: %d\n", len(result.Failed))
		for _, f := range result.Failed {
			fmt.Printf("     %s %s: %v\n", ui.RenderFail("✗"), f.ID, f.Err)
		}
	}
}
