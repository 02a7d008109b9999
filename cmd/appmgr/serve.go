package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/loykin/appmgr/internal/config"
	"github.com/loykin/appmgr/internal/daemon"
	"github.com/loykin/appmgr/internal/logger"
	"github.com/spf13/cobra"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the app manager daemon",
		Long: `Run the app manager daemon until SIGINT or SIGTERM.
Every setting has a default, so the config file is optional.

Examples:
  appmgr serve
  appmgr serve /etc/appmgr.toml
  appmgr serve --manifest ./manifest.json --socket /tmp/appmgr.sock`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			cfg, err := loadServeConfig(cmd, serveFlags, globalFlags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&serveFlags.ConfigPath, "config", "", "path to TOML config file (optional)")
	cmd.Flags().StringVar(&serveFlags.Manifest, "manifest", "", "global manifest path (overrides config)")
	return cmd
}

// loadServeConfig applies explicit command line overrides on top of the file.
func loadServeConfig(cmd *cobra.Command, flags *ServeFlags, globalFlags *GlobalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if flags.Manifest != "" {
		cfg.Manifest = flags.Manifest
	}
	if cmd.Flags().Changed("socket") {
		cfg.Socket = globalFlags.Socket
	}
	return cfg, cfg.Validate()
}

func runServe(ctx context.Context, cfg *config.Config) error {
	lg, err := logger.New(cfg.Log.Config)
	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}
	defer func() { _ = lg.Close() }()
	return daemon.Run(ctx, cfg, lg.Logger)
}
