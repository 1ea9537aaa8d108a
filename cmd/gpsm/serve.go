package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/muradov/gpsmaster/internal/auth"
	"github.com/muradov/gpsmaster/internal/bot"
	"github.com/muradov/gpsmaster/internal/bot/telegram"
	"github.com/muradov/gpsmaster/internal/config"
	"github.com/muradov/gpsmaster/internal/db"
	"github.com/muradov/gpsmaster/internal/reminder"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var webhookURL string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch bot",
		Long: `Starts the Telegram webhook server, the conversation router and the
reminder sweeper, and blocks until interrupted.

The bot token is read from the GPSM_BOT_TOKEN environment variable; the
optional Slack ops mirror uses GPSM_SLACK_TOKEN.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.OutOrStdout(), configPath, webhookURL)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "public base URL to register with Telegram")
	return cmd
}

func runServe(out io.Writer, configPath, webhookURL string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		return err
	}

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if err := auth.Bootstrap(gormDB, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter, err := telegram.New(telegram.Opts{
		Token:       secrets.BotToken,
		Addr:        fmt.Sprintf(":%d", cfg.HTTP.Port),
		WebhookPath: cfg.HTTP.WebhookPath,
		WebhookURL:  webhookURL,
		Out:         out,
	})
	if err != nil {
		return err
	}
	if err := adapter.Connect(ctx); err != nil {
		return err
	}
	defer adapter.Close()

	router, err := bot.NewRouter(bot.RouterOpts{
		DB:      gormDB,
		Adapter: adapter,
		Config:  cfg,
		Out:     out,
	})
	if err != nil {
		return err
	}

	var slackClient *slack.Client
	if secrets.SlackToken != "" {
		slackClient = slack.New(secrets.SlackToken)
	}
	sweeper, err := reminder.New(reminder.Opts{
		DB:      gormDB,
		Adapter: adapter,
		Slack:   slackClient,
		Config:  cfg,
		Out:     out,
	})
	if err != nil {
		return err
	}

	go func() {
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(out, "serve: sweeper stopped: %v\n", err)
		}
	}()

	fmt.Fprintln(out, "GPSMaster is running. Press Ctrl+C to stop.")
	if err := router.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: router: %w", err)
	}
	return nil
}
