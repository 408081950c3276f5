package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/spf13/viper"
)

// KnownProviders lists the LLM providers that can appear in prediction.providers.
var KnownProviders = []string{"gemini", "mistral", "deepseek", "openai", "anthropic"}

// Config is the fully resolved runtime configuration.
type Config struct {
	Location    *time.Location
	LLM         map[string]ProviderConfig
	Slack       SlackConfig
	Blob        BlobConfig
	WhatsApp    WhatsAppConfig
	OCR         OCRConfig
	Logging     LoggingConfig
	Idempotency IdempotencyConfig
	Database    DatabaseConfig
	Server      ServerConfig
	Timezone    string
	Redis       RedisConfig
	Prediction  PredictionConfig
	Session     SessionConfig
	Learning    LearningConfig
	Receipts    ReceiptsConfig
	LLMSettings LLMSettings
}

// LoggingConfig configures common.SetupLogger.
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string
}

// PredictionConfig controls when and how predictions are generated.
type PredictionConfig struct {
	Providers      []string
	MinReceipts    int
	RecentReceipts int
}

// ProviderConfig holds credentials for one LLM provider.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// LLMSettings are shared across all providers.
type LLMSettings struct {
	Timeout   time.Duration
	RateLimit int
}

// SessionConfig controls feedback session timing.
type SessionConfig struct {
	ReminderSchedule string
	Window           time.Duration
	ExtendBy         time.Duration
	Grace            time.Duration
	ReminderAfter    time.Duration
}

// LearningConfig controls learning batches and summaries.
type LearningConfig struct {
	Schedule   string
	Threshold  int
	WindowDays int
	MaxUpdates int
}

// IdempotencyConfig selects the inbound event dedupe store.
type IdempotencyConfig struct {
	Backend         string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// RedisConfig locates the Redis server used by the redis idempotency backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WhatsAppConfig holds WhatsApp Cloud API credentials.
type WhatsAppConfig struct {
	Token         string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	VerifyToken   string
	AppSecret     string
}

// OCRConfig configures the Unstract text extraction client.
type OCRConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxAttempts  int
}

// BlobConfig configures optional receipt image archiving.
type BlobConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether an archive endpoint is configured.
func (b BlobConfig) Enabled() bool {
	return b.Endpoint != "" && b.Bucket != ""
}

// SlackConfig configures optional operator alerts.
type SlackConfig struct {
	Token   string
	Channel string
	BaseURL string
}

// Enabled reports whether alerts can be posted.
func (s SlackConfig) Enabled() bool {
	return s.Token != "" && s.Channel != ""
}

// ReceiptsConfig controls receipt intake.
type ReceiptsConfig struct {
	BatchWindow time.Duration
}

var defaultModels = map[string]ProviderConfig{
	"gemini":    {Model: "gemini-1.5-flash", BaseURL: "https://generativelanguage.googleapis.com/"},
	"mistral":   {Model: "mistral-large-latest", BaseURL: "https://api.mistral.ai/v1"},
	"deepseek":  {Model: "deepseek-chat", BaseURL: "https://api.deepseek.com/v1"},
	"openai":    {Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
	"anthropic": {Model: "claude-3-5-haiku-latest"},
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.path", "~/.local/share/pantry/pantry.db")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("timezone", "Australia/Sydney")

	v.SetDefault("prediction.min_receipts", 25)
	v.SetDefault("prediction.recent_receipts", 50)
	v.SetDefault("prediction.providers", []string{"gemini", "mistral", "deepseek", "openai"})

	for name, def := range defaultModels {
		v.SetDefault("llm."+name+".model", def.Model)
		v.SetDefault("llm."+name+".base_url", def.BaseURL)
		v.SetDefault("llm."+name+".api_key", "")
	}
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.rate_limit", 60)

	v.SetDefault("session.window", "5h")
	v.SetDefault("session.extend_by", "120s")
	v.SetDefault("session.grace", "2m")
	v.SetDefault("session.reminder_after", "3h")
	v.SetDefault("session.reminder_schedule", "@every 30m")

	v.SetDefault("learning.threshold", 5)
	v.SetDefault("learning.window_days", 60)
	v.SetDefault("learning.max_updates", 10)
	v.SetDefault("learning.schedule", "@every 1h")

	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.cleanup_interval", "1h")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("whatsapp.api_version", "v20.0")
	v.SetDefault("whatsapp.base_url", "https://graph.facebook.com")
	v.SetDefault("whatsapp.token", "")
	v.SetDefault("whatsapp.phone_number_id", "")
	v.SetDefault("whatsapp.verify_token", "")
	v.SetDefault("whatsapp.app_secret", "")

	v.SetDefault("ocr.base_url", "https://llmwhisperer-api.us-central.unstract.com/api/v2")
	v.SetDefault("ocr.api_key", "")
	v.SetDefault("ocr.poll_interval", "5s")
	v.SetDefault("ocr.max_attempts", 60)

	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.access_key", "")
	v.SetDefault("blob.secret_key", "")
	v.SetDefault("blob.bucket", "receipts")
	v.SetDefault("blob.use_ssl", true)

	v.SetDefault("slack.token", "")
	v.SetDefault("slack.channel", "")
	v.SetDefault("slack.base_url", "")

	v.SetDefault("receipts.batch_window", "15s")
}

// Load applies defaults to v, reads every key and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Database: DatabaseConfig{Path: ExpandPath(v.GetString("database.path"))},
		Server:   ServerConfig{Addr: v.GetString("server.addr")},
		Timezone: v.GetString("timezone"),
		Prediction: PredictionConfig{
			Providers:      normalizeProviders(v.GetStringSlice("prediction.providers")),
			MinReceipts:    v.GetInt("prediction.min_receipts"),
			RecentReceipts: v.GetInt("prediction.recent_receipts"),
		},
		LLM: make(map[string]ProviderConfig, len(KnownProviders)),
		LLMSettings: LLMSettings{
			Timeout:   v.GetDuration("llm.timeout"),
			RateLimit: v.GetInt("llm.rate_limit"),
		},
		Session: SessionConfig{
			Window:           v.GetDuration("session.window"),
			ExtendBy:         v.GetDuration("session.extend_by"),
			Grace:            v.GetDuration("session.grace"),
			ReminderAfter:    v.GetDuration("session.reminder_after"),
			ReminderSchedule: v.GetString("session.reminder_schedule"),
		},
		Learning: LearningConfig{
			Threshold:  v.GetInt("learning.threshold"),
			WindowDays: v.GetInt("learning.window_days"),
			MaxUpdates: v.GetInt("learning.max_updates"),
			Schedule:   v.GetString("learning.schedule"),
		},
		Idempotency: IdempotencyConfig{
			Backend:         strings.ToLower(v.GetString("idempotency.backend")),
			TTL:             v.GetDuration("idempotency.ttl"),
			CleanupInterval: v.GetDuration("idempotency.cleanup_interval"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		WhatsApp: WhatsAppConfig{
			Token:         v.GetString("whatsapp.token"),
			PhoneNumberID: v.GetString("whatsapp.phone_number_id"),
			APIVersion:    v.GetString("whatsapp.api_version"),
			BaseURL:       v.GetString("whatsapp.base_url"),
			VerifyToken:   v.GetString("whatsapp.verify_token"),
			AppSecret:     v.GetString("whatsapp.app_secret"),
		},
		OCR: OCRConfig{
			BaseURL:      v.GetString("ocr.base_url"),
			APIKey:       v.GetString("ocr.api_key"),
			PollInterval: v.GetDuration("ocr.poll_interval"),
			MaxAttempts:  v.GetInt("ocr.max_attempts"),
		},
		Blob: BlobConfig{
			Endpoint:  v.GetString("blob.endpoint"),
			AccessKey: v.GetString("blob.access_key"),
			SecretKey: v.GetString("blob.secret_key"),
			Bucket:    v.GetString("blob.bucket"),
			UseSSL:    v.GetBool("blob.use_ssl"),
		},
		Slack: SlackConfig{
			Token:   v.GetString("slack.token"),
			Channel: v.GetString("slack.channel"),
			BaseURL: v.GetString("slack.base_url"),
		},
		Receipts: ReceiptsConfig{BatchWindow: v.GetDuration("receipts.batch_window")},
	}

	for _, name := range KnownProviders {
		cfg.LLM[name] = ProviderConfig{
			APIKey:  v.GetString("llm." + name + ".api_key"),
			Model:   v.GetString("llm." + name + ".model"),
			BaseURL: v.GetString("llm." + name + ".base_url"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and resolves the timezone.
func (c *Config) Validate() error {
	if len(c.Prediction.Providers) == 0 {
		return fmt.Errorf("%w: prediction.providers is empty", common.ErrInvalidConfig)
	}
	for _, name := range c.Prediction.Providers {
		if !slices.Contains(KnownProviders, name) {
			return fmt.Errorf("%w: unknown provider %q", common.ErrInvalidConfig, name)
		}
	}

	durations := map[string]time.Duration{
		"llm.timeout":                  c.LLMSettings.Timeout,
		"session.window":               c.Session.Window,
		"session.extend_by":            c.Session.ExtendBy,
		"session.reminder_after":       c.Session.ReminderAfter,
		"idempotency.ttl":              c.Idempotency.TTL,
		"idempotency.cleanup_interval": c.Idempotency.CleanupInterval,
		"ocr.poll_interval":            c.OCR.PollInterval,
		"receipts.batch_window":        c.Receipts.BatchWindow,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", common.ErrInvalidConfig, key)
		}
	}
	if c.Session.Grace < 0 {
		return fmt.Errorf("%w: session.grace cannot be negative", common.ErrInvalidConfig)
	}
	if c.Session.ReminderAfter >= c.Session.Window {
		return fmt.Errorf("%w: session.reminder_after must be shorter than session.window", common.ErrInvalidConfig)
	}

	counts := map[string]int{
		"prediction.min_receipts":    c.Prediction.MinReceipts,
		"prediction.recent_receipts": c.Prediction.RecentReceipts,
		"learning.threshold":         c.Learning.Threshold,
		"learning.window_days":       c.Learning.WindowDays,
		"learning.max_updates":       c.Learning.MaxUpdates,
		"ocr.max_attempts":           c.OCR.MaxAttempts,
	}
	for key, n := range counts {
		if n <= 0 {
			return fmt.Errorf("%w: %s must be positive", common.ErrInvalidConfig, key)
		}
	}

	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr is required for the redis idempotency backend", common.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown idempotency backend %q", common.ErrInvalidConfig, c.Idempotency.Backend)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("%w: timezone %q: %v", common.ErrInvalidConfig, c.Timezone, err)
	}
	c.Location = loc

	return nil
}

// Provider returns the settings for one provider.
func (c *Config) Provider(name string) ProviderConfig {
	return c.LLM[name]
}

func normalizeProviders(names []string) []string {
	var out []string
	for _, name := range names {
		// Env values arrive as one comma separated string.
		for _, part := range strings.Split(name, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
