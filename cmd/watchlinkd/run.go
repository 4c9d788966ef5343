package main

import (
	"os"

	"github.com/danmuck/watchlink/internal/config"
	"github.com/danmuck/watchlink/internal/daemon"
	"github.com/danmuck/watchlink/internal/logging"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService(path)
			if err != nil {
				return err
			}
			return svc.RunWithSignals()
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "path to watchlink.toml (defaults when empty)")
	return cmd
}

func mcpCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the daemon and serve MCP tools on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService(path, daemon.WithMCP(os.Stdin, os.Stdout))
			if err != nil {
				return err
			}
			return svc.RunWithSignals()
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "path to watchlink.toml (defaults when empty)")
	return cmd
}

func loadService(path string, opts ...daemon.Option) (*daemon.Service, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Install(daemon.LoggerConfig(cfg.Log))
	return daemon.New(cfg, opts...)
}
