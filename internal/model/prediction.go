package model

import "time"

// PredictionStatus is the lifecycle state of a stored prediction.
type PredictionStatus string

// Prediction status constants.
const (
	PredictionPendingFeedback PredictionStatus = "pending_feedback"
	PredictionFeedbackDone    PredictionStatus = "feedback_received"
	PredictionExpired         PredictionStatus = "expired"
)

// Prediction is an LLM forecast of what a user will buy next.
type Prediction struct {
	CreatedAt      time.Time
	ExpiresAt      time.Time
	DateRangeStart time.Time
	DateRangeEnd   time.Time
	UserID         string
	Reasoning      string
	Provider       string
	Prompt         string
	Status         PredictionStatus
	Items          []string
	ID             int64
}

// PromptMetric records a single provider call attempt.
type PromptMetric struct {
	CreatedAt         time.Time
	PredictionID      *int64
	UserID            string
	Provider          string
	ErrorMessage      string
	ErrorCode         string
	ID                int64
	PromptChars       int
	EstimatedTokens   int
	ContextLimitHit   bool
	RequestSuccessful bool
}

// EstimateTokens approximates token usage at four characters per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}
