package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// SaveFeedback stores a scored comparison. Storing the same prediction/receipt pair twice
// returns common.ErrDuplicateEntry.
func (s *SQLiteStorage) SaveFeedback(ctx context.Context, feedback *model.Feedback) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateFeedback(feedback); err != nil {
		return 0, err
	}

	matched, err := marshalItems(feedback.MatchedItems)
	if err != nil {
		return 0, err
	}
	missing, err := marshalItems(feedback.MissingItems)
	if err != nil {
		return 0, err
	}
	extra, err := marshalItems(feedback.ExtraItems)
	if err != nil {
		return 0, err
	}

	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = s.now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO prediction_feedback (
			prediction_id, receipt_id, session_id, user_id, match_percentage,
			matched_items, missing_items, extra_items, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feedback.PredictionID, feedback.ReceiptID, feedback.SessionID, feedback.UserID,
		feedback.MatchPercentage, matched, missing, extra, formatTime(feedback.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("feedback for prediction %d and receipt %d: %w",
				feedback.PredictionID, feedback.ReceiptID, common.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to save feedback: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	feedback.ID = id

	slog.Debug("saved feedback", "id", id, "prediction_id", feedback.PredictionID, "accuracy", feedback.MatchPercentage)
	return id, nil
}

// CountPendingFeedback counts feedback rows not yet folded into a learning update.
func (s *SQLiteStorage) CountPendingFeedback(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM prediction_feedback WHERE learning_update_id IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending feedback: %w", err)
	}
	return count, nil
}

// RecentPendingFeedback returns the newest unlinked feedback rows, newest first.
func (s *SQLiteStorage) RecentPendingFeedback(ctx context.Context, limit int) ([]model.Feedback, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []model.Feedback{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prediction_id, receipt_id, session_id, user_id, match_percentage,
			matched_items, missing_items, extra_items, learning_update_id, created_at
		FROM prediction_feedback
		WHERE learning_update_id IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.Feedback
	for rows.Next() {
		var (
			f                       model.Feedback
			matched, missing, extra string
			updateID                sql.NullInt64
			created                 string
		)
		if err := rows.Scan(&f.ID, &f.PredictionID, &f.ReceiptID, &f.SessionID, &f.UserID,
			&f.MatchPercentage, &matched, &missing, &extra, &updateID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		if f.MatchedItems, err = unmarshalItems(matched); err != nil {
			return nil, err
		}
		if f.MissingItems, err = unmarshalItems(missing); err != nil {
			return nil, err
		}
		if f.ExtraItems, err = unmarshalItems(extra); err != nil {
			return nil, err
		}
		if updateID.Valid {
			id := updateID.Int64
			f.LearningUpdateID = &id
		}
		if f.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

func marshalItems(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to marshal items: %w", err)
	}
	return string(data), nil
}

func unmarshalItems(data string) ([]string, error) {
	items := []string{}
	if data == "" {
		return items, nil
	}
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal items: %w", err)
	}
	return items, nil
}
