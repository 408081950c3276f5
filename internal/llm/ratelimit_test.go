package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(context.Context, string) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestRateLimiter_Reserve(t *testing.T) {
	now := time.Date(2024, 1, 21, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(5)
	rl.now = func() time.Time { return now }
	rl.last = now

	for i := 0; i < 5; i++ {
		ok, _ := rl.reserve()
		assert.True(t, ok, "burst request %d", i+1)
	}

	ok, wait := rl.reserve()
	assert.False(t, ok)
	assert.Equal(t, 12*time.Second, wait)

	now = now.Add(6 * time.Second)
	ok, wait = rl.reserve()
	assert.False(t, ok)
	assert.Equal(t, 6*time.Second, wait)

	now = now.Add(6 * time.Second)
	ok, _ = rl.reserve()
	assert.True(t, ok)

	// Idle time never refills past capacity.
	now = now.Add(time.Hour)
	for i := 0; i < 5; i++ {
		ok, _ = rl.reserve()
		require.True(t, ok)
	}
	ok, _ = rl.reserve()
	assert.False(t, ok)
}

func TestRateLimiter_Wait(t *testing.T) {
	t.Run("default rate", func(t *testing.T) {
		rl := newRateLimiter(0)
		assert.InDelta(t, 60, rl.capacity, 0.001)
		assert.Equal(t, time.Second, rl.perToken)
	})

	t.Run("context cancellation", func(t *testing.T) {
		rl := newRateLimiter(1)
		require.NoError(t, rl.wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := rl.wait(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Contains(t, err.Error(), "rate limit wait cancelled")
	})
}

type closingProvider struct {
	stubProvider
	closed bool
}

func (c *closingProvider) Close() error {
	c.closed = true
	return nil
}

func TestWithRateLimit(t *testing.T) {
	stub := &closingProvider{stubProvider: stubProvider{name: "openai", text: "ok"}}
	p := WithRateLimit(stub, 1)

	assert.Equal(t, "openai", p.Name())

	text, err := p.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Complete(ctx, "x")

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "openai", perr.Provider)
	assert.Equal(t, 1, stub.calls)

	CloseProviders([]Provider{p})
	assert.True(t, stub.closed)
}
