package storage

import (
	"context"
	"testing"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestValidatePrimitives(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	//nolint:staticcheck // nil is the input under test
	assert.ErrorIs(t, validateContext(nil), ErrNilContext)
	assert.NoError(t, validateContext(context.Background()))
	assert.NoError(t, validateContext(cancelled))

	tests := []struct {
		value   string
		wantErr bool
	}{
		{value: "61400000001"},
		{value: "  padded  "},
		{value: "", wantErr: true},
		{value: " \t ", wantErr: true},
	}
	for _, tt := range tests {
		err := validateString(tt.value, "user_id")
		if !tt.wantErr {
			assert.NoError(t, err, "%q", tt.value)
			continue
		}
		assert.ErrorIs(t, err, ErrEmptyString, "%q", tt.value)
		assert.ErrorContains(t, err, "user_id")
	}
}

func TestValidateReceipt(t *testing.T) {
	tests := []struct {
		receipt *model.Receipt
		wantErr error
		name    string
	}{
		{name: "valid", receipt: &model.Receipt{UserID: "u1", ImageRef: "m1"}},
		{name: "nil", receipt: nil, wantErr: ErrNilParameter},
		{name: "missing user", receipt: &model.Receipt{ImageRef: "m1"}, wantErr: ErrInvalidReceipt},
		{name: "missing image", receipt: &model.Receipt{UserID: "u1"}, wantErr: ErrInvalidReceipt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateReceipt(tt.receipt)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateReceiptItems(t *testing.T) {
	tests := []struct {
		wantErr error
		name    string
		items   []model.ReceiptItem
	}{
		{name: "valid", items: []model.ReceiptItem{{NormalizedName: "Milk"}}},
		{name: "nil", items: nil, wantErr: ErrNilParameter},
		{name: "empty", items: []model.ReceiptItem{}, wantErr: ErrEmptySlice},
		{name: "blank name", items: []model.ReceiptItem{{NormalizedName: "Milk"}, {NormalizedName: "  "}}, wantErr: ErrInvalidReceiptItem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateReceiptItems(tt.items)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidatePrediction(t *testing.T) {
	start := time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC)
	valid := func() *model.Prediction {
		return &model.Prediction{
			UserID:         "u1",
			Items:          []string{"Milk"},
			Provider:       "gemini",
			DateRangeStart: start,
			DateRangeEnd:   start.AddDate(0, 0, 2),
		}
	}

	tests := []struct {
		mutate  func(*model.Prediction)
		wantErr error
		name    string
	}{
		{name: "valid", mutate: func(*model.Prediction) {}},
		{name: "no items", mutate: func(p *model.Prediction) { p.Items = nil }, wantErr: ErrInvalidPrediction},
		{name: "no provider", mutate: func(p *model.Prediction) { p.Provider = "" }, wantErr: ErrInvalidPrediction},
		{name: "no user", mutate: func(p *model.Prediction) { p.UserID = "" }, wantErr: ErrInvalidPrediction},
		{name: "reversed range", mutate: func(p *model.Prediction) { p.DateRangeEnd = start.AddDate(0, 0, -1) }, wantErr: ErrInvalidPrediction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := validatePrediction(p)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.ErrorIs(t, validatePrediction(nil), ErrNilParameter)
}

func TestValidateSessionAndFeedback(t *testing.T) {
	expires := time.Date(2024, 1, 21, 12, 0, 0, 0, time.UTC)

	assert.NoError(t, validateSession(&model.FeedbackSession{UserID: "u1", PredictionID: 1, ExpiresAt: expires}))
	assert.ErrorIs(t, validateSession(&model.FeedbackSession{UserID: "u1", ExpiresAt: expires}), ErrInvalidSession)
	assert.ErrorIs(t, validateSession(&model.FeedbackSession{UserID: "u1", PredictionID: 1}), ErrInvalidSession)
	assert.ErrorIs(t, validateSession(nil), ErrNilParameter)

	assert.NoError(t, validateFeedback(&model.Feedback{PredictionID: 1, ReceiptID: 2, MatchPercentage: 33.33}))
	assert.ErrorIs(t, validateFeedback(&model.Feedback{PredictionID: 1, ReceiptID: 2, MatchPercentage: 101}), ErrInvalidFeedback)
	assert.ErrorIs(t, validateFeedback(&model.Feedback{PredictionID: 1}), ErrInvalidFeedback)
}
