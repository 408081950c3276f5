package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// SavePromptMetric records one provider attempt.
func (s *SQLiteStorage) SavePromptMetric(ctx context.Context, metric *model.PromptMetric) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if metric == nil {
		return 0, fmt.Errorf("%w: prompt metric", ErrNilParameter)
	}
	if err := validateString(metric.Provider, "provider"); err != nil {
		return 0, err
	}
	if metric.CreatedAt.IsZero() {
		metric.CreatedAt = s.now()
	}

	var predictionID sql.NullInt64
	if metric.PredictionID != nil {
		predictionID = sql.NullInt64{Int64: *metric.PredictionID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_metrics (
			prediction_id, user_id, provider, prompt_size_chars, estimated_tokens,
			context_limit_hit, error_message, error_code, request_successful, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		predictionID, metric.UserID, metric.Provider, metric.PromptChars, metric.EstimatedTokens,
		metric.ContextLimitHit, nullString(metric.ErrorMessage), nullString(metric.ErrorCode),
		metric.RequestSuccessful, formatTime(metric.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save prompt metric: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	metric.ID = id
	return id, nil
}

// PromptMetricsSince returns metrics recorded at or after since, oldest first.
func (s *SQLiteStorage) PromptMetricsSince(ctx context.Context, since time.Time) ([]model.PromptMetric, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prediction_id, user_id, provider, prompt_size_chars, estimated_tokens,
			context_limit_hit, error_message, error_code, request_successful, created_at
		FROM prompt_metrics
		WHERE created_at >= ?
		ORDER BY created_at ASC, id ASC`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var metrics []model.PromptMetric
	for rows.Next() {
		var (
			m                       model.PromptMetric
			predictionID            sql.NullInt64
			userID, errMsg, errCode sql.NullString
			created                 string
		)
		if err := rows.Scan(&m.ID, &predictionID, &userID, &m.Provider, &m.PromptChars,
			&m.EstimatedTokens, &m.ContextLimitHit, &errMsg, &errCode, &m.RequestSuccessful,
			&created); err != nil {
			return nil, fmt.Errorf("failed to scan prompt metric: %w", err)
		}
		if predictionID.Valid {
			id := predictionID.Int64
			m.PredictionID = &id
		}
		m.UserID = userID.String
		m.ErrorMessage = errMsg.String
		m.ErrorCode = errCode.String
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
