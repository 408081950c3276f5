package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/joshsymonds/the-pantry-must-flow/internal/blob"
	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/config"
	"github.com/joshsymonds/the-pantry-must-flow/internal/feedback"
	"github.com/joshsymonds/the-pantry-must-flow/internal/learning"
	"github.com/joshsymonds/the-pantry-must-flow/internal/llm"
	"github.com/joshsymonds/the-pantry-must-flow/internal/metrics"
	"github.com/joshsymonds/the-pantry-must-flow/internal/notify"
	"github.com/joshsymonds/the-pantry-must-flow/internal/ocr"
	"github.com/joshsymonds/the-pantry-must-flow/internal/pattern"
	"github.com/joshsymonds/the-pantry-must-flow/internal/prediction"
	"github.com/joshsymonds/the-pantry-must-flow/internal/receipt"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
	"github.com/joshsymonds/the-pantry-must-flow/internal/session"
	"github.com/joshsymonds/the-pantry-must-flow/internal/storage"
	"github.com/joshsymonds/the-pantry-must-flow/internal/whatsapp"
)

// app holds the components shared by every command. LLM providers are built on
// first use so that commands which never call a model need no API keys.
type app struct {
	cfg       *config.Config
	store     *storage.SQLiteStorage
	registry  *prometheus.Registry
	metrics   *metrics.Collectors
	notifier  service.Notifier
	sessions  *session.Manager
	learning  *learning.Engine
	providers []llm.Provider
}

// openStorage opens the database and brings the schema up to date.
func openStorage(ctx context.Context, path string) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStorage(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	var notifier service.Notifier = notify.Discard{}
	if cfg.Slack.Enabled() {
		notifier = notify.NewSlack(notify.Config{
			Token:   cfg.Slack.Token,
			Channel: cfg.Slack.Channel,
			BaseURL: cfg.Slack.BaseURL,
		})
	}

	sessions := session.NewWithConfig(store, session.Config{
		Location:      cfg.Location,
		Window:        cfg.Session.Window,
		ExtendBy:      cfg.Session.ExtendBy,
		Grace:         cfg.Session.Grace,
		ReminderAfter: cfg.Session.ReminderAfter,
	})
	sessions.SetMetrics(m)

	engine := learning.NewWithConfig(store, learning.Config{
		Threshold:  cfg.Learning.Threshold,
		WindowDays: cfg.Learning.WindowDays,
		MaxUpdates: cfg.Learning.MaxUpdates,
	})
	engine.SetMetrics(m)
	engine.SetNotifier(notifier)

	return &app{
		cfg:      cfg,
		store:    store,
		registry: registry,
		metrics:  m,
		notifier: notifier,
		sessions: sessions,
		learning: engine,
	}, nil
}

// Close releases providers and the database.
func (a *app) Close() error {
	llm.CloseProviders(a.providers)
	return a.store.Close()
}

// llmProviders builds the configured provider chain, skipping providers without credentials.
func (a *app) llmProviders(ctx context.Context) ([]llm.Provider, error) {
	if a.providers != nil {
		return a.providers, nil
	}

	cfgs := make([]llm.Config, 0, len(a.cfg.Prediction.Providers))
	for _, name := range a.cfg.Prediction.Providers {
		p := a.cfg.Provider(name)
		cfgs = append(cfgs, llm.Config{
			Name:      name,
			APIKey:    p.APIKey,
			Model:     p.Model,
			BaseURL:   p.BaseURL,
			Timeout:   a.cfg.LLMSettings.Timeout,
			RateLimit: a.cfg.LLMSettings.RateLimit,
		})
	}

	providers, err := llm.NewProviders(ctx, cfgs, func(name string, err error) {
		slog.Warn("skipping LLM provider", "provider", name, "error", err)
	})
	if err != nil {
		return nil, err
	}
	a.providers = providers
	return providers, nil
}

// whatsappClient builds the messaging client. It fails when credentials are missing.
func (a *app) whatsappClient() (*whatsapp.Client, error) {
	client, err := whatsapp.NewClient(whatsapp.Config{
		Token:         a.cfg.WhatsApp.Token,
		PhoneNumberID: a.cfg.WhatsApp.PhoneNumberID,
		APIVersion:    a.cfg.WhatsApp.APIVersion,
		BaseURL:       a.cfg.WhatsApp.BaseURL,
	})
	if errors.Is(err, common.ErrMissingConfig) {
		return nil, common.NewUserError("WhatsApp is not configured: set whatsapp.token and whatsapp.phone_number_id", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
	}
	return client, nil
}

// grocery wires the grocery request flow around messenger.
func (a *app) grocery(ctx context.Context, messenger service.Messenger) (*prediction.Service, error) {
	providers, err := a.llmProviders(ctx)
	if err != nil {
		return nil, err
	}

	generator := prediction.NewGenerator(providers, a.store)
	generator.SetMetrics(a.metrics)
	generator.SetNotifier(a.notifier)

	return prediction.NewService(
		a.store,
		pattern.NewBuilder(a.learning, slog.Default()),
		generator,
		a.sessions,
		messenger,
		prediction.Config{
			Location:       a.cfg.Location,
			MinReceipts:    a.cfg.Prediction.MinReceipts,
			RecentReceipts: a.cfg.Prediction.RecentReceipts,
		},
	), nil
}

// receipts wires the receipt intake pipeline. media and messenger may be nil for
// offline imports.
func (a *app) receipts(ctx context.Context, media receipt.Downloader, messenger service.Messenger) (*receipt.Processor, error) {
	providers, err := a.llmProviders(ctx)
	if err != nil {
		return nil, err
	}

	extractor, err := ocr.NewClient(ocr.Config{
		BaseURL:      a.cfg.OCR.BaseURL,
		APIKey:       a.cfg.OCR.APIKey,
		PollInterval: a.cfg.OCR.PollInterval,
		MaxAttempts:  a.cfg.OCR.MaxAttempts,
	})
	if errors.Is(err, common.ErrMissingConfig) {
		return nil, common.NewUserError("receipt OCR is not configured: set ocr.base_url and ocr.api_key", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR client: %w", err)
	}

	processor := receipt.NewProcessor(
		a.store,
		media,
		extractor,
		receipt.NewParser(providers),
		a.sessions,
		feedback.NewRecorder(a.store),
		messenger,
		receipt.Config{BatchWindow: a.cfg.Receipts.BatchWindow},
	)
	processor.SetMetrics(a.metrics)

	if a.cfg.Blob.Enabled() {
		archive, err := blob.NewArchive(blob.Config{
			Endpoint:  a.cfg.Blob.Endpoint,
			AccessKey: a.cfg.Blob.AccessKey,
			SecretKey: a.cfg.Blob.SecretKey,
			Bucket:    a.cfg.Blob.Bucket,
			UseSSL:    a.cfg.Blob.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create receipt archive: %w", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		processor.SetArchive(archive)
	}

	return processor, nil
}

// consoleMessenger prints outbound messages instead of sending them.
type consoleMessenger struct {
	w io.Writer
}

func (c consoleMessenger) Send(_ context.Context, userID, text string) error {
	_, err := fmt.Fprintf(c.w, "→ %s\n%s\n\n", userID, text)
	return err
}
