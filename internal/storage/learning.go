package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// SaveLearningUpdate stores an update and links exactly the given feedback rows to it.
// Both happen in one transaction so a feedback row is analyzed at most once.
func (s *SQLiteStorage) SaveLearningUpdate(ctx context.Context, update *model.LearningUpdate, feedbackIDs []int64) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if update == nil {
		return 0, fmt.Errorf("%w: learning update", ErrNilParameter)
	}
	if len(feedbackIDs) == 0 {
		return 0, fmt.Errorf("%w: feedback ids", ErrEmptySlice)
	}

	missing, err := json.Marshal(frequenciesOrEmpty(update.TopMissingItems))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal missing items: %w", err)
	}
	extra, err := json.Marshal(frequenciesOrEmpty(update.TopExtraItems))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal extra items: %w", err)
	}
	if update.CreatedAt.IsZero() {
		update.CreatedAt = s.now()
	}
	if update.Trend == "" {
		update.Trend = model.TrendStable
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO learning_updates (
			update_type, feedback_count, average_accuracy, top_missing_items,
			top_extra_items, accuracy_trend, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		update.UpdateType, update.FeedbackCount, update.AverageAccuracy,
		string(missing), string(extra), string(update.Trend), formatTime(update.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save learning update: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE prediction_feedback SET learning_update_id = ? WHERE id = ? AND learning_update_id IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, feedbackID := range feedbackIDs {
		res, err := stmt.ExecContext(ctx, id, feedbackID)
		if err != nil {
			return 0, fmt.Errorf("failed to link feedback %d: %w", feedbackID, err)
		}
		if err := requireAffected(res, "pending feedback", feedbackID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit learning update: %w", err)
	}

	update.ID = id
	slog.Info("saved learning update", "id", id, "feedback_count", len(feedbackIDs), "accuracy", update.AverageAccuracy)
	return id, nil
}

// LearningUpdatesSince returns updates created at or after since, newest first.
func (s *SQLiteStorage) LearningUpdatesSince(ctx context.Context, since time.Time, limit int) ([]model.LearningUpdate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, update_type, feedback_count, average_accuracy, top_missing_items,
			top_extra_items, accuracy_trend, created_at
		FROM learning_updates
		WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC`
	args := []any{formatTime(since)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query learning updates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var updates []model.LearningUpdate
	for rows.Next() {
		var (
			u                       model.LearningUpdate
			missing, extra, created string
			trend                   string
		)
		if err := rows.Scan(&u.ID, &u.UpdateType, &u.FeedbackCount, &u.AverageAccuracy,
			&missing, &extra, &trend, &created); err != nil {
			return nil, fmt.Errorf("failed to scan learning update: %w", err)
		}
		if err := json.Unmarshal([]byte(missing), &u.TopMissingItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal missing items: %w", err)
		}
		if err := json.Unmarshal([]byte(extra), &u.TopExtraItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extra items: %w", err)
		}
		u.Trend = model.AccuracyTrend(trend)
		if u.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

func frequenciesOrEmpty(items []model.ItemFrequency) []model.ItemFrequency {
	if items == nil {
		return []model.ItemFrequency{}
	}
	return items
}
