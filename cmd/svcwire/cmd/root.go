// Package cmd holds the svcwire command tree.
package cmd

import (
	"os"

	"github.com/danmuck/svcwire/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "svcwire",
	Short: "Service record directory",
	Long: `svcwire publishes and looks up flattened service records over a
framed TCP protocol, backed by an on-disk registry.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.ConfigureRuntime()
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("addr", "a", "127.0.0.1:7415", "Directory server address")
}
