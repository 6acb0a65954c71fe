package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Offline-first contact portal",
	Long: `Collect customer contact details locally and sync them to the remote
contact service whenever connectivity allows.

Submissions are saved to a local SQLite store first and pushed to the remote
service in the background. Pushes happen when a submission is made while
online, when connectivity returns, and on request with 'portal sync'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "contacts", Title: "Contacts:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default: <data-dir>/portal.toml)")
	flags.String("data-dir", "", "Directory holding the contact store and sync checkpoint")
	flags.String("store", "", "Path to the contact store (default: <data-dir>/contacts.db)")
	flags.String("remote", "", "Remote service DSN (http(s)://, postgres://, memory://)")
	flags.String("token", "", "Bearer token for the remote HTTP service")
	flags.String("connectivity", "", "Connectivity signal: probe, file, always or never")
	flags.String("status-file", "", "Status file read in file connectivity mode")
	flags.String("probe-url", "", "Health URL polled in probe connectivity mode")
	flags.Duration("push-timeout", 0, "Timeout for each record push")
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
