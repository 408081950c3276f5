package model

import "time"

// Feedback is a scored comparison of one prediction against one receipt.
type Feedback struct {
	CreatedAt        time.Time
	LearningUpdateID *int64
	UserID           string
	MatchedItems     []string
	MissingItems     []string
	ExtraItems       []string
	ID               int64
	PredictionID     int64
	ReceiptID        int64
	SessionID        int64
	MatchPercentage  float64
}

// AccuracyTrend labels the direction of prediction accuracy over time.
type AccuracyTrend string

// Accuracy trend constants.
const (
	TrendImproving        AccuracyTrend = "improving"
	TrendDeclining        AccuracyTrend = "declining"
	TrendStable           AccuracyTrend = "stable"
	TrendInsufficientData AccuracyTrend = "insufficient_data"
)

// ItemFrequency pairs an item name with how often it occurred.
type ItemFrequency struct {
	Item      string `json:"item" yaml:"item"`
	Frequency int    `json:"frequency" yaml:"frequency"`
}

// LearningUpdate is a persisted analysis of one batch of feedback.
type LearningUpdate struct {
	CreatedAt       time.Time
	UpdateType      string
	Trend           AccuracyTrend
	TopMissingItems []ItemFrequency
	TopExtraItems   []ItemFrequency
	ID              int64
	FeedbackCount   int
	AverageAccuracy float64
}

// LearningSummary is the cross-update view fed back into prediction prompts.
type LearningSummary struct {
	Trend           AccuracyTrend `json:"accuracy_trend" yaml:"accuracy_trend"`
	TopMissingItems []string      `json:"top_missing_items" yaml:"top_missing_items"`
	TopExtraItems   []string      `json:"top_extra_items" yaml:"top_extra_items"`
	UpdateCount     int           `json:"update_count" yaml:"update_count"`
	AverageAccuracy float64       `json:"average_accuracy" yaml:"average_accuracy"`
	HasLearning     bool          `json:"has_learning" yaml:"has_learning"`
}

// NoLearning is the summary returned when no updates exist in the window.
func NoLearning() LearningSummary {
	return LearningSummary{
		HasLearning:     false,
		TopMissingItems: []string{},
		TopExtraItems:   []string{},
		Trend:           TrendStable,
	}
}
