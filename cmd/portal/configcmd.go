package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invitekit/contactsync/internal/config"
	"github.com/invitekit/contactsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage portal configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default portal.toml",
	Long: `Write the built-in settings to portal.toml in the data directory, or to
the path given with --config. Existing files are kept unless --force is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			if dataDir == "" {
				dataDir = config.DefaultDataDir()
			}
			path = filepath.Join(dataDir, config.FileName)
		}
		force, _ := cmd.Flags().GetBool("force")

		if err := config.WriteDefault(path, force); err != nil {
			return wrapExitError(ExitCommandError, "failed to write config", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Remote.Token = redactToken(cfg.Remote.Token)
		cfg.Remote.DSN = redactDSN(cfg.Remote.DSN)

		if jsonOutput {
			return outputJSON(cfg)
		}

		source := cfg.File
		if source == "" {
			source = ui.RenderMuted("(defaults, no config file)")
		}
		fmt.Printf("\n%s Portal Configuration\n\n", ui.RenderAccent("⚙"))
		fmt.Printf("Config file:    %s\n", source)
		fmt.Printf("Data dir:       %s\n", cfg.DataDir)
		fmt.Printf("Store:          %s\n", cfg.StorePath)
		fmt.Printf("Checkpoint:     %s\n", cfg.CheckpointPath)
		fmt.Printf("Remote:         %s\n", cfg.Remote.DSN)
		fmt.Printf("Push timeout:   %v\n", cfg.Sync.PushTimeout)
		fmt.Printf("Connectivity:   %s\n", cfg.Connectivity.Mode)
		switch cfg.Connectivity.Mode {
		case config.ModeFile:
			fmt.Printf("Status file:    %s\n", cfg.Connectivity.File)
		case config.ModeProbe:
			fmt.Printf("Probe:          %s every %v\n", cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeInterval)
		}
		fmt.Printf("Notices:        %s:%d\n", cfg.Notice.Host, cfg.Notice.Port)
		if cfg.Log.File != "" {
			fmt.Printf("Log file:       %s\n", cfg.Log.File)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	return "xxxxx"
}
