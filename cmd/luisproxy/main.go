// Package main is the entry point for the LUIS proxy. It loads the .env
// file and configuration, sets up logging, starts the HTTP server and
// handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dskow/luis-proxy/internal/config"
	"github.com/dskow/luis-proxy/internal/logging"
	"github.com/dskow/luis-proxy/internal/server"
)

const rootLongDesc string = `HTTP proxy in front of a LUIS authoring service and a self-hosted
NLU parse service.

Backend defaults come from LUIS_SERVER_URL, LUIS_APP_ID, LUIS_APP_KEY
and LUIS_VERSION_ID, read from the environment or from the .env file.
POST /config changes them at runtime.

Examples:
  luisproxy
  luisproxy serve --config configs/luisproxy.yaml
  luisproxy routes`

type rootCommander struct {
	configPath string
	envFile    string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmder := &rootCommander{}

	cmd := &cobra.Command{
		Use:          "luisproxy",
		Short:        "LUIS authoring and parse proxy",
		Long:         rootLongDesc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.serve(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVarP(&cmder.configPath, "config", "c", "", "path to YAML configuration file")
	cmd.PersistentFlags().StringVar(&cmder.envFile, "env-file", ".env", "path to .env file with LUIS_* variables")
	cmd.PersistentFlags().StringVar(&cmder.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the proxy (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.serve(cmd.Context())
		},
	})
	cmd.AddCommand(newRoutesCmd())

	return cmd
}

func (c *rootCommander) serve(ctx context.Context) error {
	envLoaded, err := config.LoadEnvFile(c.envFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closer, err := logging.Setup(cfg.Logging, c.logLevel)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closer.Close()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"config_file", c.configPath,
		"env_file_loaded", envLoaded,
		"port", cfg.Server.Port,
		"backend_set", cfg.LUIS.URL != "",
		"version_id", cfg.LUIS.VersionID,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"admin_enabled", cfg.Admin.Enabled,
		"max_body_bytes", cfg.Server.MaxBodyBytes,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.New(cfg, c.configPath, logger).Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	return nil
}
