package main

import (
	"fmt"
	"os"

	"github.com/danmuck/watchlink/internal/logging"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logging.ConfigureRuntime()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "watchlinkd: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "watchlinkd",
		Short: "Companion daemon for a Pebble smartwatch",
		Long: `watchlinkd keeps a serial link to a Pebble smartwatch, reconnects when
the link drops, and exposes notifications, phone control and app messages
over a local HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(),
		mcpCmd(),
		configCmd(),
		statusCmd(),
		connectCmd(),
		disconnectCmd(),
		pingCmd(),
		notifyCmd(),
		versionCmd(),
	)
	return root
}
