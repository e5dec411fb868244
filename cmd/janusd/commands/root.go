// Package commands implements the janusd CLI.
package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coreruntime/janusd/internal/applog"
)

var (
	verbose bool
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "janusd",
	Short: "Local model supervisor and OpenAI-compatible reverse proxy",
	Long: `janusd supervises local inference backend processes and fronts them with a
single OpenAI-compatible HTTP listener, alongside a supervisor for MCP tool-provider
subprocesses.

Example:
  janusd serve --host 127.0.0.1 --port 0`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		applog.Configure(applog.Options{Verbose: verbose, JSON: logJSON})
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(newServeCmd(), newVersionCmd())
}
