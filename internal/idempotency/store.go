// Package idempotency drops inbound messaging events that were already handled.
//
// MemoryStore is owned by one process: it starts empty, is swept on an interval
// while running, and loses its contents on shutdown. Deployments with more than one
// instance need RedisStore so every instance sees the same claims.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a claimed message ID is remembered.
const DefaultTTL = 24 * time.Hour

// ErrEmptyID is returned when an event carries no message ID.
var ErrEmptyID = errors.New("message id is empty")

// Store records which message IDs have been processed.
type Store interface {
	// Claim marks id as processed and reports whether this call was the first to do so.
	Claim(ctx context.Context, id string) (bool, error)
	Close() error
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Options configures New.
type Options struct {
	Redis           *redis.Client
	Backend         string
	Prefix          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// New builds the store selected by opts.Backend. A memory store is started before
// it is returned.
func New(opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		s := NewMemoryStore(opts.TTL)
		s.Start(opts.CleanupInterval)
		return s, nil
	case BackendRedis:
		if opts.Redis == nil {
			return nil, errors.New("redis idempotency backend requires a client")
		}
		return NewRedisStore(opts.Redis, opts.TTL, opts.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend: %s", opts.Backend)
	}
}
