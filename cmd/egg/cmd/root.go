// Package cmd provides the CLI commands for egg.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bingtaocn/egg/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "egg",
	Short: "egg - clustered HTTP server",
	Long: `egg runs a single logical HTTP service as a pool of worker processes
sharing one listening socket, supervised by a master process.

Each worker owns an independent HTTP server instance. The master spawns the
workers, waits for all of them to become ready, and coordinates graceful
shutdown: on stop, workers finish in-flight requests before exiting.

Quick start:
  1. Optionally create a config file: egg.yaml
  2. Run: egg start

Configuration:
  Config is loaded from egg.yaml in the current directory, $HOME/.egg/,
  or /etc/egg/.

  Environment variables can override config values with the EGG_ prefix.
  Example: EGG_SERVER_PORT=8080

Commands:
  start       Start the cluster master
  stop        Stop the running cluster
  config      Print the effective configuration
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./egg.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
