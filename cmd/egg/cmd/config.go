package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bingtaocn/egg/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML, after defaults, config file
values, and EGG_ environment variables have been applied.

Useful for checking what "egg start" would actually run with.

Examples:
  # Show the effective config
  egg config

  # Show the config that a specific file + env produce
  EGG_SERVER_PORT=8080 egg --config ./egg.yaml config`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if configFile := config.ConfigFileUsed(); configFile != "" {
		fmt.Fprintf(os.Stderr, "# config file: %s\n", configFile)
	} else {
		fmt.Fprintln(os.Stderr, "# no config file found, using defaults")
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
