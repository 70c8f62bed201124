// Command trackbot runs the osu! top-play tracker Telegram bot.
//
// Usage:
//
//	trackbot serve -c config.yaml     # run the bot
//	trackbot validate -c config.yaml  # check a config file
//	trackbot list -c config.yaml      # print persisted tracked players
//	trackbot version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "trackbot",
	Short: "Track osu! players' top plays in Telegram chats",
	Long: `trackbot polls the osu! API for new top plays of tracked players and
posts them to the Telegram chats that subscribed to them.

Polling is spread evenly over a configurable cycle so every tracked player
is checked once per interval without bursting the API.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "trackbot %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "./config.yaml", "path to config file (json or yaml)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
