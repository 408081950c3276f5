package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attemptLog struct {
	before []string
	after  []error
}

func (a *attemptLog) BeforeAttempt(_ context.Context, provider string) {
	a.before = append(a.before, provider)
}

func (a *attemptLog) AfterAttempt(_ context.Context, _ string, err error) {
	a.after = append(a.after, err)
}

func acceptOK(_, text string) error {
	if text != "ok" {
		return &ParseError{Reason: "not ok"}
	}
	return nil
}

func TestChain_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("stops at first accepted response", func(t *testing.T) {
		a := &stubProvider{name: "gemini", err: &ProviderError{Provider: "gemini", StatusCode: 500, Message: "boom"}}
		b := &stubProvider{name: "mistral", text: "nope"}
		c := &stubProvider{name: "deepseek", text: "ok"}
		d := &stubProvider{name: "openai", text: "ok"}
		obs := &attemptLog{}

		name, err := NewChain(a, b, c, d).Run(ctx, "prompt", acceptOK, obs)
		require.NoError(t, err)
		assert.Equal(t, "deepseek", name)
		assert.Equal(t, []int{1, 1, 1, 0}, []int{a.calls, b.calls, c.calls, d.calls})
		assert.Equal(t, []string{"gemini", "mistral", "deepseek"}, obs.before)
		require.Len(t, obs.after, 3)
		assert.Error(t, obs.after[0])
		assert.Error(t, obs.after[1])
		assert.NoError(t, obs.after[2])
	})

	t.Run("exhausted chain joins every failure", func(t *testing.T) {
		a := &stubProvider{name: "gemini", err: errors.New("dial tcp: timeout")}
		b := &stubProvider{name: "openai", text: "garbage"}

		_, err := NewChain(a, b).Run(ctx, "prompt", acceptOK, nil)
		assert.ErrorIs(t, err, ErrChainExhausted)
		var perr *ParseError
		assert.ErrorAs(t, err, &perr)
		assert.Contains(t, err.Error(), "dial tcp")
	})

	t.Run("empty chain", func(t *testing.T) {
		_, err := NewChain().Run(ctx, "prompt", acceptOK, nil)
		assert.ErrorIs(t, err, ErrChainExhausted)
	})

	t.Run("cancelled context stops before calling", func(t *testing.T) {
		a := &stubProvider{name: "gemini", text: "ok"}
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := NewChain(a).Run(cctx, "prompt", acceptOK, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, a.calls)
	})

	t.Run("provider names", func(t *testing.T) {
		chain := NewChain(&stubProvider{name: "gemini"}, &stubProvider{name: "openai"})
		assert.Equal(t, []string{"gemini", "openai"}, chain.Providers())
	})
}
