package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/cachemir/shardpipe/internal/server"
	"github.com/cachemir/shardpipe/pkg/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		flags      = config.DefaultServerConfig()
	)

	cmd := &cobra.Command{
		Use:   "shardpipe-server",
		Short: "Run a shardpipe cache node",
		Long: `Run a shardpipe cache node.

Configuration is read from the optional YAML file, then from CACHEMIR_*
environment variables, then from the flags given on the command line.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.LoadServerConfig(ctx, configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, flags)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			var level slog.Level
			if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
				return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
			}
			logger := clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			ctx = clog.WithLogger(ctx, logger)

			logger.Info("starting shardpipe server",
				"address", cfg.Address(),
				"max_conns", cfg.MaxConns,
				"read_timeout", cfg.ReadTimeout,
				"write_timeout", cfg.WriteTimeout)

			srv := server.New(cfg)
			if err := srv.Start(ctx); err != nil {
				logger.Errorf("server failed: %v", err)
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	f.StringVar(&flags.Host, "host", flags.Host, "address to listen on")
	f.IntVarP(&flags.Port, "port", "p", flags.Port, "port to listen on")
	f.IntVar(&flags.MaxConns, "max-conns", flags.MaxConns, "maximum concurrent connections")
	f.DurationVar(&flags.ReadTimeout, "read-timeout", flags.ReadTimeout, "idle read timeout per connection")
	f.DurationVar(&flags.WriteTimeout, "write-timeout", flags.WriteTimeout, "write timeout per reply batch")
	f.DurationVar(&flags.SweepInterval, "sweep-interval", flags.SweepInterval, "interval between expired key sweeps")
	f.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "log level (debug, info, warn, error)")
	return cmd
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg, flags *config.ServerConfig) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Host = flags.Host
	}
	if f.Changed("port") {
		cfg.Port = flags.Port
	}
	if f.Changed("max-conns") {
		cfg.MaxConns = flags.MaxConns
	}
	if f.Changed("read-timeout") {
		cfg.ReadTimeout = flags.ReadTimeout
	}
	if f.Changed("write-timeout") {
		cfg.WriteTimeout = flags.WriteTimeout
	}
	if f.Changed("sweep-interval") {
		cfg.SweepInterval = flags.SweepInterval
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
}
