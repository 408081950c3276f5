package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
)

// ErrNoReceiptItems is returned when a receipt has no named items to compare.
var ErrNoReceiptItems = errors.New("receipt has no items")

// Store is the persistence the recorder needs.
type Store interface {
	GetPrediction(ctx context.Context, id int64) (*model.Prediction, error)
	UpdatePredictionStatus(ctx context.Context, id int64, status model.PredictionStatus) error
	ItemsForReceipts(ctx context.Context, receiptIDs []int64) ([]model.ReceiptItem, error)
	service.FeedbackStore
}

// Recorder turns a confirming receipt into a persisted Feedback row.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a recorder backed by store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, logger: slog.Default()}
}

// Record scores the receipt against the session's prediction and saves the result.
// The session is left open so further receipts from the same trip can be recorded.
func (r *Recorder) Record(ctx context.Context, session *model.FeedbackSession, receiptID int64) (*model.Feedback, error) {
	prediction, err := r.store.GetPrediction(ctx, session.PredictionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prediction %d: %w", session.PredictionID, err)
	}

	items, err := r.store.ItemsForReceipts(ctx, []int64{receiptID})
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt items: %w", err)
	}
	actual := make([]string, 0, len(items))
	for _, item := range items {
		if item.NormalizedName != "" {
			actual = append(actual, item.NormalizedName)
		}
	}
	if len(actual) == 0 {
		return nil, fmt.Errorf("%w: receipt %d", ErrNoReceiptItems, receiptID)
	}

	score := Compare(prediction.Items, actual)
	fb := &model.Feedback{
		PredictionID:    prediction.ID,
		ReceiptID:       receiptID,
		SessionID:       session.ID,
		UserID:          session.UserID,
		MatchPercentage: score.MatchPercentage,
		MatchedItems:    score.Matched,
		MissingItems:    score.Missing,
		ExtraItems:      score.Extra,
	}

	id, err := r.store.SaveFeedback(ctx, fb)
	if err != nil {
		return nil, common.NewStorageError("save feedback", err)
	}
	fb.ID = id

	if err := r.store.UpdatePredictionStatus(ctx, prediction.ID, model.PredictionFeedbackDone); err != nil {
		r.logger.Warn("failed to mark prediction as confirmed", "prediction_id", prediction.ID, "error", err)
	}

	r.logger.Info("recorded prediction feedback",
		"feedback_id", id,
		"prediction_id", prediction.ID,
		"receipt_id", receiptID,
		"match_percentage", score.MatchPercentage,
		"matched", len(score.Matched),
		"missing", len(score.Missing),
		"extra", len(score.Extra))
	return fb, nil
}
