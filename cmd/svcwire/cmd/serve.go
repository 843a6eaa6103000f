package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/svcwire/internal/admin"
	"github.com/danmuck/svcwire/internal/config"
	"github.com/danmuck/svcwire/internal/directory"
	"github.com/danmuck/svcwire/internal/registry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the directory server",
	Long: `Run the directory server until interrupted.

Examples:
  svcwire serve --config server.toml
  svcwire serve --listen :7415 --data-dir ./data --admin :9415`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serverConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

// serverConfig loads --config when given, then applies explicit flags.
func serverConfig(cmd *cobra.Command) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadServerConfig(path)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Directory.ListenAddr, _ = flags.GetString("listen")
	}
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("admin") {
		cfg.AdminAddr, _ = flags.GetString("admin")
	}
	if err := config.ValidateServerConfig(cfg); err != nil {
		return config.ServerConfig{}, err
	}
	return cfg, nil
}

func runServer(ctx context.Context, cfg config.ServerConfig) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	reg, err := registry.Open(cfg.Registry())
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	running := 1
	go func() { errs <- directory.NewService(cfg.Directory, reg).Run(ctx) }()
	if cfg.AdminAddr != "" {
		running++
		go func() { errs <- admin.New(cfg.Admin(), reg).Run(ctx) }()
	}

	var first error
	for ; running > 0; running-- {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
		cancel()
	}
	log.Info().Err(first).Msg("svcwire.serve stopped")
	return first
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "", "Server TOML config")
	serveCmd.Flags().String("listen", directory.DefaultServiceConfig().ListenAddr, "Directory listen address")
	serveCmd.Flags().StringP("data-dir", "d", config.DefaultServerConfig().DataDir, "Registry data directory")
	serveCmd.Flags().String("admin", "", "Admin HTTP address (health, metrics, registry views)")
}
