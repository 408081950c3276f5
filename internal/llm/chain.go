package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrChainExhausted is returned when no provider in a chain produced an accepted response.
var ErrChainExhausted = errors.New("no provider produced a valid response")

// Observer is notified around every provider attempt in a chain.
type Observer interface {
	BeforeAttempt(ctx context.Context, provider string)
	AfterAttempt(ctx context.Context, provider string, err error)
}

// AcceptFunc validates a response; a non-nil error moves the chain to the next provider.
type AcceptFunc func(provider, text string) error

// Chain tries providers in a fixed order and stops at the first accepted response.
// A provider is never retried within one run.
type Chain struct {
	logger    *slog.Logger
	providers []Provider
}

// NewChain creates a chain over providers in the given order.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers, logger: slog.Default()}
}

// Providers returns the chain order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Run sends prompt to each provider until accept returns nil, and returns the name
// of the provider that succeeded. obs may be nil.
func (c *Chain) Run(ctx context.Context, prompt string, accept AcceptFunc, obs Observer) (string, error) {
	if len(c.providers) == 0 {
		return "", fmt.Errorf("%w: no providers configured", ErrChainExhausted)
	}

	var errs []error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		name := p.Name()
		if obs != nil {
			obs.BeforeAttempt(ctx, name)
		}

		text, err := p.Complete(ctx, prompt)
		if err == nil {
			err = accept(name, text)
		}
		if obs != nil {
			obs.AfterAttempt(ctx, name, err)
		}
		if err == nil {
			return name, nil
		}

		c.logger.Warn("provider attempt failed, trying next",
			"provider", name,
			"context_limit", IsContextLimit(err),
			"error", err)
		errs = append(errs, err)
	}

	return "", fmt.Errorf("%w: %w", ErrChainExhausted, errors.Join(errs...))
}
