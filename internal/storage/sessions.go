package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

const sessionColumns = `id, prediction_id, user_id, status, created_at, expires_at,
	reminder_sent_at, closed_at, updated_at`

// CreateWaitingSession inserts a waiting session. It fails with common.ErrDuplicateEntry
// when the user already has one, which the partial unique index enforces.
func (s *SQLiteStorage) CreateWaitingSession(ctx context.Context, session *model.FeedbackSession) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateSession(session); err != nil {
		return 0, err
	}

	now := s.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt
	session.Status = model.SessionWaiting

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_sessions (prediction_id, user_id, status, created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.PredictionID, session.UserID, string(model.SessionWaiting),
		formatTime(session.CreatedAt), formatTime(session.ExpiresAt), formatTime(session.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("waiting session for user %s: %w", session.UserID, common.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to create session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	session.ID = id
	return id, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStorage) GetSession(ctx context.Context, id int64) (*model.FeedbackSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM feedback_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return session, nil
}

// LatestWaitingSession returns the user's newest waiting session expiring after expiresAfter.
func (s *SQLiteStorage) LatestWaitingSession(ctx context.Context, userID string, expiresAfter time.Time) (*model.FeedbackSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM feedback_sessions
		WHERE user_id = ? AND status = ? AND expires_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		userID, string(model.SessionWaiting), formatTime(expiresAfter))
	session, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "waiting session for user", userID)
	}
	return session, nil
}

// ExtendSession moves the expiry of a waiting session.
func (s *SQLiteStorage) ExtendSession(ctx context.Context, id int64, expiresAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE feedback_sessions SET expires_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		formatTime(expiresAt), formatTime(s.now()), id, string(model.SessionWaiting))
	if err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}
	return requireAffected(result, "waiting session", id)
}

// CloseSession moves a waiting session into a terminal status.
func (s *SQLiteStorage) CloseSession(ctx context.Context, id int64, status model.SessionStatus, closedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if !status.Valid() || !status.IsTerminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE feedback_sessions SET status = ?, closed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(status), formatTime(closedAt), formatTime(closedAt), id, string(model.SessionWaiting))
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return requireAffected(result, "waiting session", id)
}

// ExpireLapsedSessions marks waiting sessions whose expiry has passed as expired.
// An empty userID applies to every user.
func (s *SQLiteStorage) ExpireLapsedSessions(ctx context.Context, userID string, now time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	query := `
		UPDATE feedback_sessions SET status = ?, closed_at = ?, updated_at = ?
		WHERE status = ? AND expires_at <= ?`
	args := []any{
		string(model.SessionExpired), formatTime(now), formatTime(now),
		string(model.SessionWaiting), formatTime(now),
	}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		slog.Info("expired lapsed sessions", "count", affected, "user", userID)
	}
	return int(affected), nil
}

// SessionsDueReminder returns waiting sessions created before createdBefore that have
// not been reminded and have not yet expired.
func (s *SQLiteStorage) SessionsDueReminder(ctx context.Context, createdBefore, now time.Time) ([]model.FeedbackSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM feedback_sessions
		WHERE status = ? AND created_at < ? AND reminder_sent_at IS NULL AND expires_at > ?
		ORDER BY created_at ASC, id ASC`,
		string(model.SessionWaiting), formatTime(createdBefore), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions due reminder: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []model.FeedbackSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// MarkReminderSent stamps reminder_sent_at so a session is reminded at most once.
func (s *SQLiteStorage) MarkReminderSent(ctx context.Context, id int64, sentAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE feedback_sessions SET reminder_sent_at = ?, updated_at = ?
		WHERE id = ? AND reminder_sent_at IS NULL`,
		formatTime(sentAt), formatTime(sentAt), id)
	if err != nil {
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	return requireAffected(result, "unreminded session", id)
}

func scanSession(row rowScanner) (*model.FeedbackSession, error) {
	var (
		session                           model.FeedbackSession
		status, created, expires, updated string
		reminderSent, closed              sql.NullString
	)
	if err := row.Scan(&session.ID, &session.PredictionID, &session.UserID, &status,
		&created, &expires, &reminderSent, &closed, &updated); err != nil {
		return nil, err
	}

	var err error
	session.Status = model.SessionStatus(status)
	if session.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if session.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if session.ReminderSentAt, err = parseNullTime(reminderSent); err != nil {
		return nil, err
	}
	if session.ClosedAt, err = parseNullTime(closed); err != nil {
		return nil, err
	}
	return &session, nil
}
