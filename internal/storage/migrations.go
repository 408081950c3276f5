package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Receipts, predictions and feedback sessions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS receipts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id TEXT NOT NULL,
					store_name TEXT,
					purchase_date TEXT,
					image_ref TEXT NOT NULL,
					mime_type TEXT,
					file_size INTEGER DEFAULT 0,
					archive_key TEXT,
					extracted_text TEXT,
					extraction_status TEXT NOT NULL DEFAULT 'pending',
					failure_reason TEXT,
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX idx_receipts_user_created ON receipts(user_id, created_at)`,
				`CREATE UNIQUE INDEX ux_receipts_user_image ON receipts(user_id, image_ref)`,

				`CREATE TABLE IF NOT EXISTS receipt_items (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					receipt_id INTEGER NOT NULL,
					item_name TEXT NOT NULL,
					item_name_normalized TEXT NOT NULL,
					quantity REAL DEFAULT 1,
					unit_price REAL DEFAULT 0,
					total_price REAL DEFAULT 0,
					FOREIGN KEY (receipt_id) REFERENCES receipts(id)
				)`,
				`CREATE INDEX idx_receipt_items_receipt ON receipt_items(receipt_id)`,

				`CREATE TABLE IF NOT EXISTS predictions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id TEXT NOT NULL,
					date_range_start TEXT NOT NULL,
					date_range_end TEXT NOT NULL,
					predicted_items TEXT NOT NULL,
					reasoning TEXT,
					provider TEXT NOT NULL,
					llm_prompt TEXT,
					status TEXT NOT NULL,
					expires_at TEXT NOT NULL,
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX idx_predictions_user ON predictions(user_id, created_at)`,

				`CREATE TABLE IF NOT EXISTS feedback_sessions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					prediction_id INTEGER NOT NULL UNIQUE,
					user_id TEXT NOT NULL,
					status TEXT NOT NULL,
					created_at TEXT NOT NULL,
					expires_at TEXT NOT NULL,
					reminder_sent_at TEXT,
					closed_at TEXT,
					updated_at TEXT NOT NULL,
					FOREIGN KEY (prediction_id) REFERENCES predictions(id)
				)`,
				`CREATE INDEX idx_feedback_sessions_user_status ON feedback_sessions(user_id, status, expires_at)`,
				// At most one waiting session per user.
				`CREATE UNIQUE INDEX ux_feedback_sessions_waiting_user ON feedback_sessions(user_id) WHERE status = 'waiting'`,
			})
		},
	},
	{
		Version:     2,
		Description: "Prediction feedback and learning updates",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS learning_updates (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					update_type TEXT NOT NULL,
					feedback_count INTEGER NOT NULL,
					average_accuracy REAL NOT NULL,
					top_missing_items TEXT NOT NULL,
					top_extra_items TEXT NOT NULL,
					accuracy_trend TEXT NOT NULL,
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX idx_learning_updates_created ON learning_updates(created_at)`,

				`CREATE TABLE IF NOT EXISTS prediction_feedback (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					prediction_id INTEGER NOT NULL,
					receipt_id INTEGER NOT NULL,
					session_id INTEGER NOT NULL,
					user_id TEXT NOT NULL,
					match_percentage REAL NOT NULL,
					matched_items TEXT NOT NULL,
					missing_items TEXT NOT NULL,
					extra_items TEXT NOT NULL,
					learning_update_id INTEGER,
					created_at TEXT NOT NULL,
					FOREIGN KEY (prediction_id) REFERENCES predictions(id),
					FOREIGN KEY (receipt_id) REFERENCES receipts(id),
					FOREIGN KEY (learning_update_id) REFERENCES learning_updates(id)
				)`,
				`CREATE UNIQUE INDEX ux_prediction_feedback_receipt ON prediction_feedback(prediction_id, receipt_id)`,
				`CREATE INDEX idx_prediction_feedback_pending ON prediction_feedback(learning_update_id, created_at)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Prompt metrics",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS prompt_metrics (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					prediction_id INTEGER,
					user_id TEXT,
					provider TEXT NOT NULL,
					prompt_size_chars INTEGER NOT NULL,
					estimated_tokens INTEGER NOT NULL,
					context_limit_hit BOOLEAN NOT NULL DEFAULT 0,
					error_message TEXT,
					error_code TEXT,
					request_successful BOOLEAN NOT NULL DEFAULT 1,
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX idx_prompt_metrics_created ON prompt_metrics(created_at)`,
				`CREATE INDEX idx_prompt_metrics_context_limit ON prompt_metrics(context_limit_hit)`,
			})
		},
	},
}

// SchemaVersion returns the current PRAGMA user_version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate runs all database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
