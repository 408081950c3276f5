package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// NewProvider creates the provider strategy named by cfg.Name.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	cfg.Name = strings.ToLower(cfg.Name)

	var (
		p   Provider
		err error
	)
	switch cfg.Name {
	case "openai", "mistral", "deepseek":
		p, err = newOpenAIClient(cfg)
	case "anthropic":
		p, err = newAnthropicClient(cfg)
	case "gemini":
		p, err = newGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Name)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RateLimit > 0 {
		p = WithRateLimit(p, cfg.RateLimit)
	}
	return p, nil
}

// NewProviders builds an ordered strategy list. Providers that cannot be configured
// (typically a missing API key) are skipped and reported through skipped.
func NewProviders(ctx context.Context, cfgs []Config, skipped func(name string, err error)) ([]Provider, error) {
	providers := make([]Provider, 0, len(cfgs))
	for _, cfg := range cfgs {
		p, err := NewProvider(ctx, cfg)
		if err != nil {
			if skipped != nil {
				skipped(cfg.Name, err)
			}
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, errors.New("no LLM providers could be configured")
	}
	return providers, nil
}

// CloseProviders closes every provider that implements io.Closer.
func CloseProviders(providers []Provider) {
	for _, p := range providers {
		if c, ok := p.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
