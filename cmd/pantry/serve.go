package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joshsymonds/the-pantry-must-flow/internal/bot"
	"github.com/joshsymonds/the-pantry-must-flow/internal/config"
	"github.com/joshsymonds/the-pantry-must-flow/internal/idempotency"
	"github.com/joshsymonds/the-pantry-must-flow/internal/scheduler"
	"github.com/joshsymonds/the-pantry-must-flow/internal/server"
)

const schedulerStopTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WhatsApp webhook server",
		Long: `Serve the WhatsApp webhook, /health and /metrics, and run the background
jobs: the feedback reminder sweep and the learning trigger.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (default from server.addr)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	wa, err := a.whatsappClient()
	if err != nil {
		return err
	}
	grocery, err := a.grocery(ctx, wa)
	if err != nil {
		return err
	}
	receipts, err := a.receipts(ctx, wa, wa)
	if err != nil {
		return err
	}

	dedupe, err := newIdempotencyStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = dedupe.Close() }()

	jobs := scheduler.New(cfg.Location)
	if err := jobs.Add("reminder_sweep", cfg.Session.ReminderSchedule, scheduler.SweepJob(a.sessions, wa)); err != nil {
		return err
	}
	if err := jobs.Add("learning_trigger", cfg.Learning.Schedule, scheduler.LearningJob(a.learning)); err != nil {
		return err
	}
	jobs.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), schedulerStopTimeout)
		defer cancel()
		if err := jobs.Stop(stopCtx); err != nil {
			slog.Warn("background jobs did not stop cleanly", "error", err)
		}
	}()

	handler := bot.New(grocery, receipts, a.sessions, a.learning, wa)
	srv := server.New(server.Config{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		AppSecret:   cfg.WhatsApp.AppSecret,
	}, handler, dedupe, a.metrics, a.registry)

	if cfg.WhatsApp.AppSecret == "" {
		slog.Warn("whatsapp.app_secret is not set; webhook signatures are not verified")
	}
	slog.Info("🛒 pantry is serving",
		"addr", cfg.Server.Addr,
		"providers", cfg.Prediction.Providers,
		"idempotency", cfg.Idempotency.Backend,
		"archive", cfg.Blob.Enabled(),
		"alerts", cfg.Slack.Enabled())

	return srv.Run(ctx, cfg.Server.Addr)
}

func newIdempotencyStore(ctx context.Context, cfg *config.Config) (idempotency.Store, error) {
	opts := idempotency.Options{
		Backend:         cfg.Idempotency.Backend,
		TTL:             cfg.Idempotency.TTL,
		CleanupInterval: cfg.Idempotency.CleanupInterval,
	}
	if cfg.Idempotency.Backend == idempotency.BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		opts.Redis = client
	}

	store, err := idempotency.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create idempotency store: %w", err)
	}
	return store, nil
}
