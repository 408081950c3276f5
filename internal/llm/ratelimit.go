package llm

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

const defaultRequestsPerMinute = 60

// rateLimiter is a token bucket refilled continuously at capacity tokens per minute.
// Tokens are topped up lazily on each reservation.
type rateLimiter struct {
	last     time.Time
	now      func() time.Time
	tokens   float64
	capacity float64
	perToken time.Duration
	mu       sync.Mutex
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	return &rateLimiter{
		tokens:   float64(requestsPerMinute),
		capacity: float64(requestsPerMinute),
		perToken: time.Minute / time.Duration(requestsPerMinute),
		now:      time.Now,
		last:     time.Now(),
	}
}

// reserve takes a token when one is available. Otherwise it reports how long
// until the next one.
func (rl *rateLimiter) reserve() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.last); elapsed > 0 {
		rl.tokens = math.Min(rl.capacity, rl.tokens+float64(elapsed)/float64(rl.perToken))
		rl.last = now
	}
	if rl.tokens >= 1 {
		rl.tokens--
		return true, 0
	}
	wait := time.Duration((1 - rl.tokens) * float64(rl.perToken))
	return false, max(wait, time.Millisecond)
}

// wait blocks until a token is taken or ctx is done.
func (rl *rateLimiter) wait(ctx context.Context) error {
	for {
		ok, delay := rl.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// limitedProvider waits for a token before every call.
type limitedProvider struct {
	Provider
	limiter *rateLimiter
}

// WithRateLimit wraps p so that calls start at no more than requestsPerMinute,
// with bursts up to the same number.
func WithRateLimit(p Provider, requestsPerMinute int) Provider {
	return &limitedProvider{Provider: p, limiter: newRateLimiter(requestsPerMinute)}
}

func (p *limitedProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if err := p.limiter.wait(ctx); err != nil {
		return "", &ProviderError{Provider: p.Name(), Message: err.Error(), Err: err}
	}
	return p.Provider.Complete(ctx, prompt)
}

// Close closes the wrapped provider when it holds resources.
func (p *limitedProvider) Close() error {
	if c, ok := p.Provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
