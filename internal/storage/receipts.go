package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

const receiptColumns = `id, user_id, store_name, purchase_date, image_ref, mime_type, file_size,
	archive_key, extracted_text, extraction_status, failure_reason, created_at`

// CreateReceipt inserts a new pending receipt and returns its ID.
func (s *SQLiteStorage) CreateReceipt(ctx context.Context, receipt *model.Receipt) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateReceipt(receipt); err != nil {
		return 0, err
	}

	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = s.now()
	}
	if receipt.ExtractionStatus == "" {
		receipt.ExtractionStatus = model.ExtractionPending
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (
			user_id, store_name, purchase_date, image_ref, mime_type, file_size,
			archive_key, extraction_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receipt.UserID, receipt.StoreName, nullDate(receipt.PurchaseDate), receipt.ImageRef,
		receipt.MimeType, receipt.FileSize, receipt.ArchiveKey,
		string(receipt.ExtractionStatus), formatTime(receipt.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("receipt %s: %w", receipt.ImageRef, common.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to create receipt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	receipt.ID = id
	slog.Debug("created receipt", "id", id, "user", receipt.UserID)
	return id, nil
}

// GetReceipt retrieves a receipt by ID.
func (s *SQLiteStorage) GetReceipt(ctx context.Context, id int64) (*model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id)
	receipt, err := scanReceipt(row)
	if err != nil {
		return nil, notFound(err, "receipt", id)
	}
	return receipt, nil
}

// FindReceiptByImageRef finds a user's receipt by the image reference it was created from.
func (s *SQLiteStorage) FindReceiptByImageRef(ctx context.Context, userID, imageRef string) (*model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE user_id = ? AND image_ref = ?`,
		userID, imageRef)
	receipt, err := scanReceipt(row)
	if err != nil {
		return nil, notFound(err, "receipt", imageRef)
	}
	return receipt, nil
}

// CountReceipts counts all receipts submitted by a user.
func (s *SQLiteStorage) CountReceipts(ctx context.Context, userID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count receipts: %w", err)
	}
	return count, nil
}

// RecentReceipts returns a user's most recent receipts, newest first.
func (s *SQLiteStorage) RecentReceipts(ctx context.Context, userID string, limit int) ([]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectReceipts(rows)
}

// PendingReceiptsSince returns a user's pending receipts created at or after since, oldest first.
func (s *SQLiteStorage) PendingReceiptsSince(ctx context.Context, userID string, since time.Time) ([]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts
		WHERE user_id = ? AND extraction_status = ? AND created_at >= ?
		ORDER BY created_at ASC, id ASC`,
		userID, string(model.ExtractionPending), formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectReceipts(rows)
}

// MarkReceiptExtracted records OCR text and structured header fields.
func (s *SQLiteStorage) MarkReceiptExtracted(ctx context.Context, id int64, text, storeName string, purchaseDate *time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE receipts
		SET extracted_text = ?, store_name = ?, purchase_date = COALESCE(?, purchase_date),
			extraction_status = ?, failure_reason = NULL
		WHERE id = ?`,
		text, storeName, nullDate(purchaseDate), string(model.ExtractionSuccess), id)
	if err != nil {
		return fmt.Errorf("failed to update receipt: %w", err)
	}
	return requireAffected(result, "receipt", id)
}

// MarkReceiptFailed marks a receipt as failed with a reason.
func (s *SQLiteStorage) MarkReceiptFailed(ctx context.Context, id int64, reason string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE receipts SET extraction_status = ?, failure_reason = ? WHERE id = ?`,
		string(model.ExtractionFailed), reason, id)
	if err != nil {
		return fmt.Errorf("failed to update receipt: %w", err)
	}
	return requireAffected(result, "receipt", id)
}

// SaveReceiptItems batch inserts items for a receipt and returns how many were stored.
func (s *SQLiteStorage) SaveReceiptItems(ctx context.Context, receiptID int64, items []model.ReceiptItem) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateReceiptItems(items); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO receipt_items (
			receipt_id, item_name, item_name_normalized, quantity, unit_price, total_price
		) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.NormalizedName
		}
		if _, err := stmt.ExecContext(ctx, receiptID, name, strings.TrimSpace(item.NormalizedName),
			item.Quantity, item.UnitPrice, item.TotalPrice); err != nil {
			return 0, fmt.Errorf("failed to insert receipt item %q: %w", item.NormalizedName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit receipt items: %w", err)
	}
	return len(items), nil
}

// ItemsForReceipts returns the items of the given receipts with each receipt's purchase date.
// Receipts without a purchase date fall back to their creation day.
func (s *SQLiteStorage) ItemsForReceipts(ctx context.Context, receiptIDs []int64) ([]model.ReceiptItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(receiptIDs) == 0 {
		return []model.ReceiptItem{}, nil
	}

	placeholders := make([]string, len(receiptIDs))
	args := make([]any, len(receiptIDs))
	for i, id := range receiptIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT ri.id, ri.receipt_id, ri.item_name, ri.item_name_normalized,
			ri.quantity, ri.unit_price, ri.total_price,
			COALESCE(r.purchase_date, substr(r.created_at, 1, 10))
		FROM receipt_items ri
		JOIN receipts r ON r.id = ri.receipt_id
		WHERE ri.receipt_id IN (%s)
		ORDER BY ri.receipt_id, ri.id`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipt items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.ReceiptItem
	for rows.Next() {
		var (
			item    model.ReceiptItem
			dateStr string
		)
		if err := rows.Scan(&item.ID, &item.ReceiptID, &item.Name, &item.NormalizedName,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice, &dateStr); err != nil {
			return nil, fmt.Errorf("failed to scan receipt item: %w", err)
		}
		item.PurchaseDate, err = time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse purchase date %q: %w", dateStr, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*model.Receipt, error) {
	var (
		r                                             model.Receipt
		storeName, purchaseDate, mimeType, archiveKey sql.NullString
		extractedText, failureReason                  sql.NullString
		status, createdAt                             string
	)
	if err := row.Scan(&r.ID, &r.UserID, &storeName, &purchaseDate, &r.ImageRef, &mimeType,
		&r.FileSize, &archiveKey, &extractedText, &status, &failureReason, &createdAt); err != nil {
		return nil, err
	}

	var err error
	r.StoreName = storeName.String
	r.MimeType = mimeType.String
	r.ArchiveKey = archiveKey.String
	r.ExtractedText = extractedText.String
	r.FailureReason = failureReason.String
	r.ExtractionStatus = model.ExtractionStatus(status)
	if r.PurchaseDate, err = parseNullDate(purchaseDate); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectReceipts(rows *sql.Rows) ([]model.Receipt, error) {
	var receipts []model.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, *r)
	}
	return receipts, rows.Err()
}
