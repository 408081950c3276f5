// Package model defines the core domain models used throughout the application.
package model

import "time"

// ExtractionStatus tracks how far a receipt got through OCR and structuring.
type ExtractionStatus string

// Extraction status constants.
const (
	ExtractionPending ExtractionStatus = "pending"
	ExtractionSuccess ExtractionStatus = "success"
	ExtractionFailed  ExtractionStatus = "failed"
)

// Receipt is one submitted receipt image and what was extracted from it.
type Receipt struct {
	CreatedAt        time.Time
	PurchaseDate     *time.Time
	UserID           string
	StoreName        string
	ImageRef         string
	MimeType         string
	ArchiveKey       string
	ExtractedText    string
	FailureReason    string
	ExtractionStatus ExtractionStatus
	ID               int64
	FileSize         int64
}

// ReceiptItem is a single line on a structured receipt.
type ReceiptItem struct {
	PurchaseDate   time.Time
	Name           string
	NormalizedName string
	ID             int64
	ReceiptID      int64
	Quantity       float64
	UnitPrice      float64
	TotalPrice     float64
}
