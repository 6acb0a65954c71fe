package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/invitekit/contactsync/internal/loadtest"
	"github.com/invitekit/contactsync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Measure store and sync performance under concurrent clerks",
	Long: `Create a scratch contact store, then simulate several clerks looking up
and submitting contacts at the same time while sync passes push the queue to
an in-memory remote with simulated latency.

The scratch store lives in a temporary directory and is removed afterwards;
the configured store is never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		contacts, _ := f.GetInt("contacts")
		clerks, _ := f.GetInt("clerks")
		ops, _ := f.GetInt("ops")
		latency, _ := f.GetDuration("latency")
		syncEvery, _ := f.GetDuration("sync-every")

		dir, err := os.MkdirTemp("", "portal-loadtest-")
		if err != nil {
			return wrapExitError(ExitCommandError, "failed to create scratch directory", err)
		}
		defer os.RemoveAll(dir)

		ctx := cmd.Context()
		fmt.Printf("%s Populating %d contacts...\n", ui.RenderAccent("🔄"), contacts)
		ts, err := loadtest.CreateTestStore(ctx, filepath.Join(dir, "contacts.db"), contacts, loadtest.Options{
			SyncedPct:   0.5,
			PushLatency: latency,
		})
		if err != nil {
			return wrapExitError(ExitCommandError, "failed to create test store", err)
		}
		defer ts.Close()

		start := time.Now()
		lookups, err := ts.RunConcurrentLookups(ctx, clerks, ops)
		if err != nil {
			return wrapExitError(ExitFailure, "lookup load failed", err)
		}
		submits, err := ts.RunConcurrentSubmits(ctx, clerks, ops, syncEvery)
		if err != nil {
			return wrapExitError(ExitFailure, "submit load failed", err)
		}

		fmt.Println()
		lookups.PrintStats(os.Stdout, "Lookup latency")
		fmt.Println()
		submits.PrintStats(os.Stdout, "Submit latency")
		fmt.Printf("\n%s Load test complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Remote upserts: %d\n", ts.Remote.UpsertCount())
		return nil
	},
}

func init() {
	f := loadtestCmd.Flags()
	f.Int("contacts", 1000, "Contacts to generate")
	f.Int("clerks", 20, "Concurrent clerks")
	f.Int("ops", 10, "Operations per clerk")
	f.Duration("latency", 20*time.Millisecond, "Simulated remote latency per push")
	f.Duration("sync-every", 100*time.Millisecond, "Interval between sync passes during submits")

	rootCmd.AddCommand(loadtestCmd)
}
