package idempotency

import (
	"context"
	"sync"
	"time"
)

const defaultCleanupInterval = time.Hour

// MemoryStore is an in-process TTL set of message IDs.
type MemoryStore struct {
	entries map[string]time.Time
	now     func() time.Time
	stopCh  chan struct{}
	done    chan struct{}
	ttl     time.Duration
	mu      sync.Mutex
	once    sync.Once
}

// NewMemoryStore creates an empty store. Call Start to evict expired entries in the
// background.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
}

// SetClock overrides the time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Claim records id unless an unexpired entry already exists.
func (s *MemoryStore) Claim(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.entries[id]; ok && now.Before(expiry) {
		return false, nil
	}
	s.entries[id] = now.Add(s.ttl)
	return true, nil
}

// Cleanup removes expired entries and returns how many were dropped.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, expiry := range s.entries {
		if !now.Before(expiry) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored IDs, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs Cleanup every interval until Close. Calling Start more than once has no effect.
func (s *MemoryStore) Start(interval time.Duration) {
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	s.once.Do(func() {
		s.done = make(chan struct{})
		go s.run(interval)
	})
}

func (s *MemoryStore) run(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Close stops the cleanup goroutine and drops every entry.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return nil
	default:
		close(s.stopCh)
	}
	s.entries = make(map[string]time.Time)
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}
