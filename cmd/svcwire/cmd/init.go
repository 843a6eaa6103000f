package cmd

import (
	"fmt"

	"github.com/danmuck/svcwire/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config template",
	Long: `Write a server or records TOML template.

Examples:
  svcwire init --kind server --out server.toml
  svcwire init --kind records --out records.toml --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		out, _ := cmd.Flags().GetString("out")
		force, _ := cmd.Flags().GetBool("force")
		if out == "" {
			out = kind + ".toml"
		}
		if err := config.WriteTemplate(out, kind, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringP("kind", "k", "server", "Template kind: server or records")
	initCmd.Flags().StringP("out", "o", "", "Output path (default <kind>.toml)")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
}
