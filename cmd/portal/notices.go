package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/invitekit/contactsync/internal/notice"
	"github.com/invitekit/contactsync/internal/ui"
)

var noticesCmd = &cobra.Command{
	Use:     "notices",
	GroupID: "advanced",
	Short:   "Follow notices from a running daemon",
	Long: `Connect to the notice WebSocket of a running 'portal daemon' and print
notices as they arrive. Recent notices are replayed on connect.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		url, _ := cmd.Flags().GetString("url")
		if url == "" {
			url = fmt.Sprintf("ws://%s:%d/ws", cfg.Notice.Host, cfg.Notice.Port)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = notice.Watch(ctx, url, func(n notice.Notice) {
			if jsonOutput {
				_ = outputJSON(n)
				return
			}
			fmt.Printf("%s %s %s\n",
				ui.RenderMuted(n.Timestamp.Local().Format("15:04:05")),
				ui.RenderLevel(string(n.Level), levelSymbol(n.Level)),
				n.Message)
		})
		if err != nil {
			return wrapExitError(ExitCommandError, "notice stream failed", err)
		}
		return nil
	},
}

func init() {
	noticesCmd.Flags().String("url", "", "Notice WebSocket URL (default: from notice.host and notice.port)")
	rootCmd.AddCommand(noticesCmd)
}
