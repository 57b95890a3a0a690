// Package cli implements the toolrpc command line.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jarsater/toolrpc/internal/config"
)

// Version is set at build time with -ldflags "-X".
var Version = "0.1.0"

var (
	configFile string
	loader     *config.Loader
)

// NewRootCommand builds the command tree. Each call returns a fresh tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "toolrpc",
		Short: "Serve and call tools over JSON-RPC",
		Long: `toolrpc exposes a set of tools to clients over newline-delimited
JSON-RPC on stdin/stdout or over a small HTTP binding.

Settings come from defaults, toolrpc.yaml, TOOLRPC_* environment
variables and flags, in that order.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loader = config.NewLoader(configFile)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./toolrpc.yaml or ~/.toolrpc/toolrpc.yaml)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newToolsCommand())
	root.AddCommand(newCallCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "toolrpc v%s\n", Version)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// Helper functions for colored output. They write to the command's output
// so tests can capture it.
func printSuccess(cmd *cobra.Command, format string, a ...any) {
	fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓ "+format, a...))
}

func printWarning(cmd *cobra.Command, format string, a ...any) {
	fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("! "+format, a...))
}

func printError(cmd *cobra.Command, format string, a ...any) {
	fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("✗ "+format, a...))
}

func printInfo(cmd *cobra.Command, format string, a ...any) {
	fmt.Fprintln(cmd.OutOrStdout(), color.CyanString("→ "+format, a...))
}
