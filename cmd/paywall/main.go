// Command paywall runs the content paywall API and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nightstudio/paywall/internal/config"
	"github.com/nightstudio/paywall/pkg/logger"
)

// Version is set at build time using -ldflags.
var Version = "development"

var rootCmd = &cobra.Command{
	Use:           "paywall",
	Short:         "Pay-to-unlock content API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "paywall", Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, reconcileCmd, versionCmd)
}

// loadConfig reads configuration and builds the root logger from it.
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg.LoggerConfig()), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
