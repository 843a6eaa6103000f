package cmd

import (
	"context"
	"time"

	"github.com/danmuck/svcwire/internal/directory"
	"github.com/spf13/cobra"
)

// connect dials --addr with the default session settings. --timeout bounds
// the whole command.
func connect(cmd *cobra.Command) (*directory.Conn, context.Context, context.CancelFunc, error) {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	cfg := directory.DefaultClientConfig()
	cfg.Address = addr
	client, err := directory.NewClient(cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	conn, err := client.Connect(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return conn, ctx, cancel, nil
}

func addTimeoutFlag(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 30*time.Second, "Overall command timeout")
}
