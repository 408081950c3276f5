// Package session implements the feedback session state machine.
//
// A session opens when a prediction is sent and stays in the waiting state
// until the user's next receipt confirms it, the user declines, or the window
// lapses. Persistence failures during extend and close never abort the caller:
// the in-memory session is updated and the returned TransitionResult records
// whether the store agreed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/metrics"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
)

var (
	// ErrNotWaiting is returned for transitions on a session that already reached a terminal state.
	ErrNotWaiting = errors.New("session is not waiting")
	// ErrActiveSessionExists is returned when the user already has a live waiting session.
	ErrActiveSessionExists = errors.New("user already has a waiting session")
	// ErrInvalidExtension is returned by Extend for a zero or negative duration.
	ErrInvalidExtension = errors.New("extension must be positive")
)

// Config holds the session timing rules.
type Config struct {
	Location      *time.Location
	Window        time.Duration
	ExtendBy      time.Duration
	Grace         time.Duration
	ReminderAfter time.Duration
}

// DefaultConfig returns the default session timing.
func DefaultConfig() Config {
	return Config{
		Location:      time.UTC,
		Window:        5 * time.Hour,
		ExtendBy:      120 * time.Second,
		Grace:         2 * time.Minute,
		ReminderAfter: 3 * time.Hour,
	}
}

// TransitionResult reports whether a state change reached the store.
// Err is set whenever Persisted is false.
type TransitionResult struct {
	Err       error
	Persisted bool
}

// Manager drives session transitions against a SessionStore.
type Manager struct {
	store   service.SessionStore
	metrics *metrics.Collectors
	logger  *slog.Logger
	now     func() time.Time
	config  Config
}

// New creates a manager with the default configuration.
func New(store service.SessionStore) *Manager {
	return NewWithConfig(store, DefaultConfig())
}

// NewWithConfig creates a manager with custom timing.
func NewWithConfig(store service.SessionStore, config Config) *Manager {
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Manager{
		store:  store,
		config: config,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SetMetrics attaches Prometheus collectors.
func (m *Manager) SetMetrics(c *metrics.Collectors) {
	m.metrics = c
}

// Config returns the timing rules in effect.
func (m *Manager) Config() Config {
	return m.config
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// ExpiryFor returns when a session opened at t lapses: the earlier of t plus the
// window and the next midnight in the configured location.
func (m *Manager) ExpiryFor(t time.Time) time.Time {
	local := t.In(m.config.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, m.config.Location)
	expires := t.Add(m.config.Window)
	if midnight.Before(expires) {
		expires = midnight
	}
	return expires.UTC()
}

// Open creates a waiting session for prediction. The prediction's ExpiresAt is used
// when set so both rows share one deadline. Lapsed waiting sessions of the same
// user are expired first; a live one makes Open fail with ErrActiveSessionExists.
func (m *Manager) Open(ctx context.Context, prediction *model.Prediction) (*model.FeedbackSession, error) {
	now := m.now()

	if n, err := m.store.ExpireLapsedSessions(ctx, prediction.UserID, now); err != nil {
		m.logger.Warn("failed to expire lapsed sessions", "user", prediction.UserID, "error", err)
	} else {
		for i := 0; i < n; i++ {
			m.metrics.SessionClosed(string(model.SessionExpired))
		}
	}

	expires := prediction.ExpiresAt
	if expires.IsZero() {
		expires = m.ExpiryFor(now)
	}

	session := &model.FeedbackSession{
		PredictionID: prediction.ID,
		UserID:       prediction.UserID,
		Status:       model.SessionWaiting,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    expires,
	}

	id, err := m.store.CreateWaitingSession(ctx, session)
	if err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return nil, fmt.Errorf("%w: %s", ErrActiveSessionExists, prediction.UserID)
		}
		return nil, common.NewStorageError("create session", err)
	}
	session.ID = id

	m.logger.Info("opened feedback session",
		"session_id", id,
		"prediction_id", prediction.ID,
		"user", prediction.UserID,
		"expires_at", expires)
	return session, nil
}

// ActiveSession returns the user's most recent waiting session that has not yet
// expired, or nil when there is none. With grace, a session that lapsed within the
// grace window still counts.
func (m *Manager) ActiveSession(ctx context.Context, userID string, grace bool) (*model.FeedbackSession, error) {
	cutoff := m.now()
	if grace {
		cutoff = cutoff.Add(-m.config.Grace)
	}

	session, err := m.store.LatestWaitingSession(ctx, userID, cutoff)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}
	return session, nil
}

// Extend pushes the session's expiry out by d. The in-memory session is updated even
// when the store rejects the write.
func (m *Manager) Extend(ctx context.Context, session *model.FeedbackSession, d time.Duration) TransitionResult {
	if session.Status != model.SessionWaiting {
		return TransitionResult{Err: fmt.Errorf("%w: session %d is %s", ErrNotWaiting, session.ID, session.Status)}
	}
	if d <= 0 {
		return TransitionResult{Err: fmt.Errorf("%w: %s", ErrInvalidExtension, d)}
	}

	session.ExpiresAt = session.ExpiresAt.Add(d)
	session.UpdatedAt = m.now()

	if err := m.store.ExtendSession(ctx, session.ID, session.ExpiresAt); err != nil {
		m.logger.Warn("session extension not persisted",
			"session_id", session.ID,
			"expires_at", session.ExpiresAt,
			"error", err)
		return TransitionResult{Err: common.NewStorageError("extend session", err)}
	}

	m.logger.Debug("extended feedback session", "session_id", session.ID, "expires_at", session.ExpiresAt)
	return TransitionResult{Persisted: true}
}

// Close moves the session into the terminal status. Like Extend, a failed write is
// logged and reported but the in-memory session still transitions.
func (m *Manager) Close(ctx context.Context, session *model.FeedbackSession, status model.SessionStatus) TransitionResult {
	if !status.Valid() || !status.IsTerminal() {
		return TransitionResult{Err: fmt.Errorf("invalid terminal status: %s", status)}
	}
	if session.Status != model.SessionWaiting {
		return TransitionResult{Err: fmt.Errorf("%w: session %d is %s", ErrNotWaiting, session.ID, session.Status)}
	}

	now := m.now()
	session.Status = status
	session.ClosedAt = &now
	session.UpdatedAt = now
	m.metrics.SessionClosed(string(status))

	if err := m.store.CloseSession(ctx, session.ID, status, now); err != nil {
		m.logger.Warn("session close not persisted",
			"session_id", session.ID,
			"status", status,
			"error", err)
		return TransitionResult{Err: common.NewStorageError("close session", err)}
	}

	m.logger.Info("closed feedback session", "session_id", session.ID, "user", session.UserID, "status", status)
	return TransitionResult{Persisted: true}
}
