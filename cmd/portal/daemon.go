package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/invitekit/contactsync/internal/connectivity"
	"github.com/invitekit/contactsync/internal/notice"
	"github.com/invitekit/contactsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Watch connectivity and sync automatically (foreground)",
	Long: `Run the portal in the foreground: watch connectivity, push queued contacts
whenever the portal comes back online, and broadcast notices over WebSocket.

The daemon will:
  1. Flush queued contacts at startup if online
  2. Sync once for every offline to online transition
  3. Retry queued contacts on --interval while online
  4. Serve notices on ws://<host>:<port>/ws

Example usage:
  portal daemon --connectivity probe --probe-url https://contacts.example.com/health
  portal daemon --connectivity file --status-file /run/portal/online --port 9000`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().IntP("port", "p", 0, "Notice server port (default: notice.port, 8765)")
	daemonCmd.Flags().Duration("interval", 5*time.Minute, "Retry queued contacts this often while online (0 disables)")
	daemonCmd.Flags().String("log-file", "", "Also write logs to this rotating file")

	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	interval, _ := cmd.Flags().GetDuration("interval")

	sink := openSink(cfg, false)
	defer sink.Close()

	server := notice.NewServer(&notice.Config{
		Host:    cfg.Notice.Host,
		Port:    cfg.Notice.Port,
		History: cfg.Notice.History,
		Logger:  sink.Logger("notice"),
	})
	if err := server.Start(); err != nil {
		return wrapExitError(ExitCommandError, "failed to start notice server", err)
	}

	notifier := notice.Multi{server, notice.NewLogNotifier(sink.Logger("notice"))}
	a, err := openApp(ctx, cmd, appOptions{
		notifier:    notifier,
		syncOnStart: true,
		cfg:         cfg,
		sink:        sink,
	})
	if err != nil {
		_ = server.Stop()
		return err
	}

	fmt.Printf("%s Starting portal daemon...\n", ui.RenderAccent("🚀"))
	fmt.Printf("   Store: %s\n", cfg.StorePath)
	fmt.Printf("   Remote: %s\n", redactDSN(cfg.Remote.DSN))
	fmt.Printf("   Connectivity: %s\n", cfg.Connectivity.Mode)
	fmt.Printf("   Notices: ws://%s/ws\n", server.Addr())
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	g, gctx := errgroup.WithContext(ctx)

	if interval > 0 {
		g.Go(func() error {
			retryLoop(gctx, a, interval)
			return nil
		})
	}

	// Hold until interrupted
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()

	fmt.Println("\nShutting down portal daemon...")
	a.Close()
	if serr := server.Stop(); serr != nil {
		err = errors.Join(err, serr)
	}
	if err != nil {
		return wrapExitError(ExitFailure, "daemon stopped with error", err)
	}
	fmt.Println("Portal daemon stopped")
	return nil
}

// retryLoop re-runs sync while online so entries that failed to push are
// retried without waiting for a connectivity change.
func retryLoop(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := a.sink.Logger("sync")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.portal.Online() {
				continue
			}
			st, err := a.portal.Status(ctx)
			if err != nil || st.Unsynced == 0 {
				continue
			}
			if _, err := a.portal.ManualSync(ctx); err != nil && !errors.Is(err, connectivity.ErrOffline) {
				logger.Printf("Periodic sync failed: %v", err)
			}
		}
	}
}
