// Package storage provides the SQLite persistence layer for receipts, predictions and feedback.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidReceipt     = errors.New("invalid receipt")
	ErrInvalidPrediction  = errors.New("invalid prediction")
	ErrInvalidSession     = errors.New("invalid feedback session")
	ErrInvalidFeedback    = errors.New("invalid feedback")
	ErrInvalidReceiptItem = errors.New("invalid receipt item")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateReceipt(r *model.Receipt) error {
	if r == nil {
		return fmt.Errorf("%w: receipt", ErrNilParameter)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidReceipt)
	}
	if r.ImageRef == "" {
		return fmt.Errorf("%w: missing image reference", ErrInvalidReceipt)
	}
	return nil
}

func validateReceiptItems(items []model.ReceiptItem) error {
	if items == nil {
		return fmt.Errorf("%w: items", ErrNilParameter)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: items", ErrEmptySlice)
	}
	for i, item := range items {
		if strings.TrimSpace(item.NormalizedName) == "" {
			return fmt.Errorf("item at index %d: %w: missing name", i, ErrInvalidReceiptItem)
		}
	}
	return nil
}

func validatePrediction(p *model.Prediction) error {
	if p == nil {
		return fmt.Errorf("%w: prediction", ErrNilParameter)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidPrediction)
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidPrediction)
	}
	if p.Provider == "" {
		return fmt.Errorf("%w: missing provider", ErrInvalidPrediction)
	}
	if p.DateRangeEnd.Before(p.DateRangeStart) {
		return fmt.Errorf("%w: date range ends before it starts", ErrInvalidPrediction)
	}
	return nil
}

func validateSession(s *model.FeedbackSession) error {
	if s == nil {
		return fmt.Errorf("%w: session", ErrNilParameter)
	}
	if s.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidSession)
	}
	if s.PredictionID == 0 {
		return fmt.Errorf("%w: missing prediction", ErrInvalidSession)
	}
	if s.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing expiry", ErrInvalidSession)
	}
	return nil
}

func validateFeedback(f *model.Feedback) error {
	if f == nil {
		return fmt.Errorf("%w: feedback", ErrNilParameter)
	}
	if f.PredictionID == 0 || f.ReceiptID == 0 {
		return fmt.Errorf("%w: missing prediction or receipt", ErrInvalidFeedback)
	}
	if f.MatchPercentage < 0 || f.MatchPercentage > 100 {
		return fmt.Errorf("%w: match percentage %.2f out of range", ErrInvalidFeedback, f.MatchPercentage)
	}
	return nil
}
