// Package cli wires configuration, the component registry, the HTTP server,
// and the background worker into the graphmind command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/config"
)

var cfgFile string

// RootCmd is the graphmind entry point.
var RootCmd = &cobra.Command{
	Use:   "graphmind",
	Short: "knowledge-graph ingestion agent with a Telegram front door",
	Long: `Graphmind runs a conversational agent that grows a versioned knowledge
graph from web sources. Users talk to it over Telegram; every proposed
graph change waits for explicit approval before it is committed.

The process hosts three things:
- the supervisor loop that turns messages into discovery, fetching,
  extraction, and diff proposals
- a task worker that drains the durable queue and runs background
  expansion cycles
- an HTTP server with the webhook and the admin/triage API`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./graphmind.yaml)")
	RootCmd.PersistentFlags().String("host", "", "bind address override")
	RootCmd.PersistentFlags().Int("port", 0, "listen port override")
	RootCmd.AddCommand(serveCmd)
}

// Execute runs the command tree.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	common.ConfigureLogger(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
