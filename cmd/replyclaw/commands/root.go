// Package commands implements the ReplyClaw CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "replyclaw",
		Short: "ReplyClaw - chat auto-reply service",
		Long: `ReplyClaw answers incoming direct messages from stored
trigger/response templates and records every exchange. Templates and
logs are managed over an HTTP API.

Examples:
  replyclaw serve
  replyclaw serve --config ./config.yaml
  replyclaw setup
  replyclaw health`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
