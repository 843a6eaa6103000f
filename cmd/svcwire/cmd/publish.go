package cmd

import (
	"fmt"

	"github.com/danmuck/svcwire/internal/config"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the classes and services of a records file",
	Long: `Publish every [[class]] and [[service]] table of a records file.
Classes are sent first.

Example:
  svcwire publish --records records.toml --addr 127.0.0.1:7415`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("records")
		file, err := config.LoadRecords(path)
		if err != nil {
			return err
		}
		classes, err := file.ServiceClasses()
		if err != nil {
			return err
		}
		records, err := file.Records()
		if err != nil {
			return err
		}

		conn, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer conn.Close()

		out := cmd.OutOrStdout()
		for _, sc := range classes {
			ack, err := conn.PublishClass(ctx, sc)
			if err != nil {
				return fmt.Errorf("publish class %q: %w", sc.ClassName.Value(), err)
			}
			fmt.Fprintf(out, "class %s registered id=%s size=%d\n", sc.ClassName.Value(), ack.RegistrationID, ack.RecordSize)
		}
		for _, rec := range records {
			ack, err := conn.Publish(ctx, rec)
			if err != nil {
				return fmt.Errorf("publish %q: %w", rec.InstanceName.Value(), err)
			}
			fmt.Fprintf(out, "service %s registered id=%s size=%d\n", rec.InstanceName.Value(), ack.RegistrationID, ack.RecordSize)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().StringP("records", "r", "records.toml", "Records TOML file")
	addTimeoutFlag(publishCmd)
}
