package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trackbot/internal/config"
	logx "trackbot/pkg/logx"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Parse and validate a config file without starting the bot.

Exit codes:
  0 - config is valid
  1 - config is invalid (details on stderr)`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewManager(cfgPath, logx.Nop()).Load()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	driver := "none"
	if cfg.Storage != nil && cfg.Storage.Driver != "" {
		driver = cfg.Storage.Driver
	}
	interval := cfg.Tracking.Interval
	if interval == "" {
		interval = "default"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "config is valid")
	fmt.Fprintf(out, "  owners:   %d\n", len(cfg.Telegram.OwnerUserIDs))
	fmt.Fprintf(out, "  interval: %s\n", interval)
	fmt.Fprintf(out, "  paused:   %t\n", cfg.Tracking.Paused)
	fmt.Fprintf(out, "  storage:  %s\n", driver)
	return nil
}
