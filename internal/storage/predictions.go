package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// SavePrediction stores a new prediction and returns its ID.
func (s *SQLiteStorage) SavePrediction(ctx context.Context, prediction *model.Prediction) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validatePrediction(prediction); err != nil {
		return 0, err
	}

	itemsJSON, err := json.Marshal(prediction.Items)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal predicted items: %w", err)
	}

	if prediction.CreatedAt.IsZero() {
		prediction.CreatedAt = s.now()
	}
	if prediction.Status == "" {
		prediction.Status = model.PredictionPendingFeedback
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions (
			user_id, date_range_start, date_range_end, predicted_items, reasoning,
			provider, llm_prompt, status, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		prediction.UserID,
		prediction.DateRangeStart.Format(dateLayout),
		prediction.DateRangeEnd.Format(dateLayout),
		string(itemsJSON),
		prediction.Reasoning,
		prediction.Provider,
		prediction.Prompt,
		string(prediction.Status),
		formatTime(prediction.ExpiresAt),
		formatTime(prediction.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save prediction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	prediction.ID = id
	slog.Debug("saved prediction", "id", id, "user", prediction.UserID, "provider", prediction.Provider, "items", len(prediction.Items))
	return id, nil
}

// GetPrediction retrieves a prediction by ID.
func (s *SQLiteStorage) GetPrediction(ctx context.Context, id int64) (*model.Prediction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		p                      model.Prediction
		start, end, itemsJSON  string
		reasoning, prompt      sql.NullString
		status, expires, added string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, date_range_start, date_range_end, predicted_items, reasoning,
			provider, llm_prompt, status, expires_at, created_at
		FROM predictions WHERE id = ?`, id).Scan(
		&p.ID, &p.UserID, &start, &end, &itemsJSON, &reasoning,
		&p.Provider, &prompt, &status, &expires, &added,
	)
	if err != nil {
		return nil, notFound(err, "prediction", id)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &p.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal predicted items: %w", err)
	}
	if p.DateRangeStart, err = time.Parse(dateLayout, start); err != nil {
		return nil, fmt.Errorf("failed to parse date range start: %w", err)
	}
	if p.DateRangeEnd, err = time.Parse(dateLayout, end); err != nil {
		return nil, fmt.Errorf("failed to parse date range end: %w", err)
	}
	if p.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(added); err != nil {
		return nil, err
	}
	p.Reasoning = reasoning.String
	p.Prompt = prompt.String
	p.Status = model.PredictionStatus(status)

	return &p, nil
}

// UpdatePredictionStatus changes a prediction's lifecycle state.
func (s *SQLiteStorage) UpdatePredictionStatus(ctx context.Context, id int64, status model.PredictionStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	switch status {
	case model.PredictionPendingFeedback, model.PredictionFeedbackDone, model.PredictionExpired:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	result, err := s.db.ExecContext(ctx, `UPDATE predictions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update prediction status: %w", err)
	}
	return requireAffected(result, "prediction", id)
}
