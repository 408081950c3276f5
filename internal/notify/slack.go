// Package notify posts operator alerts to Slack.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Config identifies the bot token and target channel. BaseURL overrides the Slack
// API root and is only set in tests.
type Config struct {
	Token   string
	Channel string
	BaseURL string
}

// Slack implements service.Notifier.
type Slack struct {
	client  *slack.Client
	channel string
}

// NewSlack creates a notifier for cfg.Channel.
func NewSlack(cfg Config) *Slack {
	var opts []slack.Option
	if cfg.BaseURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.BaseURL))
	}
	return &Slack{
		client:  slack.New(cfg.Token, opts...),
		channel: cfg.Channel,
	}
}

// Notify posts a bold title followed by text.
func (s *Slack) Notify(ctx context.Context, title, text string) error {
	msg := fmt.Sprintf("*%s*\n%s", title, text)
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(msg, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("failed to post slack alert: %w", err)
	}
	return nil
}

// Discard drops every alert. It stands in when Slack is not configured.
type Discard struct{}

// Notify logs the alert at debug level.
func (Discard) Notify(_ context.Context, title, _ string) error {
	slog.Debug("alert dropped, slack not configured", "title", title)
	return nil
}
