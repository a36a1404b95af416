package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/logging"
	"github.com/zulandar/switchboard/internal/transport"
	discordadapter "github.com/zulandar/switchboard/internal/transport/discord"
	slackadapter "github.com/zulandar/switchboard/internal/transport/slack"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Switchboard gateway",
		Long:  "Connects to the configured chat platform, applies the auto-reply rules, and serves the outbound delivery API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := logging.New(cfg.Log.File)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer closeLog()

	gormDB, err := db.Connect(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.DB.Driver, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	daemon, err := gateway.NewDaemon(gateway.DaemonOpts{
		DB:      gormDB,
		Config:  cfg,
		Adapter: adapter,
		Logger:  logger,
		Out:     cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (transport.Adapter, error) {
	switch cfg.Transport.Platform {
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.Transport.BotToken,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Transport.AppToken,
			BotToken: cfg.Transport.BotToken,
		})
	default:
		return nil, fmt.Errorf("transport: unsupported platform %q", cfg.Transport.Platform)
	}
}
