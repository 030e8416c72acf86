// Package cli implements the chanwatch commands.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chanwatch/internal/config"
)

// Version is set at build time with -ldflags "-X chanwatch/internal/cli.Version=...".
var Version = "dev"

var (
	cfgPath    string
	formatFlag string
)

// RootCmd is the top-level command. Without a subcommand it runs the monitor.
var RootCmd = &cobra.Command{
	Use:           "chanwatch",
	Short:         "Watch Telegram chats for keywords and forward matches",
	Long:          "chanwatch scans Telegram chats on a schedule, filters messages by a keyword policy and notifies target chats about new matches.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		// A missing .env is normal.
		_ = godotenv.Load()
	},
	RunE: runMonitor,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (default: $CHANWATCH_CONFIG or ./config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: text or json")
}

func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	if env := os.Getenv("CHANWATCH_CONFIG"); env != "" {
		return env
	}
	return "./config.yaml"
}

// parseConfig reads the config without requiring a bot token, for offline commands.
func parseConfig() (*config.Config, error) {
	cfg, err := config.NewConfigManager(getConfigPath()).Parse()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", getConfigPath(), err)
	}
	return cfg, nil
}

// Execute runs RootCmd and reports the error on stderr.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
