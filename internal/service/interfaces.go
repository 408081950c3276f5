// Package service defines the contracts shared between the feedback loop and its collaborators.
package service

import (
	"context"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// ReceiptStore persists receipts and their structured items.
type ReceiptStore interface {
	CreateReceipt(ctx context.Context, receipt *model.Receipt) (int64, error)
	GetReceipt(ctx context.Context, id int64) (*model.Receipt, error)
	FindReceiptByImageRef(ctx context.Context, userID, imageRef string) (*model.Receipt, error)
	CountReceipts(ctx context.Context, userID string) (int, error)
	RecentReceipts(ctx context.Context, userID string, limit int) ([]model.Receipt, error)
	PendingReceiptsSince(ctx context.Context, userID string, since time.Time) ([]model.Receipt, error)
	MarkReceiptExtracted(ctx context.Context, id int64, text, storeName string, purchaseDate *time.Time) error
	MarkReceiptFailed(ctx context.Context, id int64, reason string) error
	SaveReceiptItems(ctx context.Context, receiptID int64, items []model.ReceiptItem) (int, error)
	ItemsForReceipts(ctx context.Context, receiptIDs []int64) ([]model.ReceiptItem, error)
}

// PredictionStore persists predictions.
type PredictionStore interface {
	SavePrediction(ctx context.Context, prediction *model.Prediction) (int64, error)
	GetPrediction(ctx context.Context, id int64) (*model.Prediction, error)
	UpdatePredictionStatus(ctx context.Context, id int64, status model.PredictionStatus) error
}

// SessionStore persists feedback sessions. CreateWaitingSession must fail with
// common.ErrDuplicateEntry when the user already has a waiting session.
type SessionStore interface {
	CreateWaitingSession(ctx context.Context, session *model.FeedbackSession) (int64, error)
	GetSession(ctx context.Context, id int64) (*model.FeedbackSession, error)
	LatestWaitingSession(ctx context.Context, userID string, expiresAfter time.Time) (*model.FeedbackSession, error)
	ExtendSession(ctx context.Context, id int64, expiresAt time.Time) error
	CloseSession(ctx context.Context, id int64, status model.SessionStatus, closedAt time.Time) error
	ExpireLapsedSessions(ctx context.Context, userID string, now time.Time) (int, error)
	SessionsDueReminder(ctx context.Context, createdBefore, now time.Time) ([]model.FeedbackSession, error)
	MarkReminderSent(ctx context.Context, id int64, sentAt time.Time) error
}

// FeedbackStore persists scored feedback.
type FeedbackStore interface {
	SaveFeedback(ctx context.Context, feedback *model.Feedback) (int64, error)
	CountPendingFeedback(ctx context.Context) (int, error)
	RecentPendingFeedback(ctx context.Context, limit int) ([]model.Feedback, error)
}

// LearningStore persists learning updates. SaveLearningUpdate also links the
// analyzed feedback rows to the new update in the same transaction.
type LearningStore interface {
	SaveLearningUpdate(ctx context.Context, update *model.LearningUpdate, feedbackIDs []int64) (int64, error)
	LearningUpdatesSince(ctx context.Context, since time.Time, limit int) ([]model.LearningUpdate, error)
}

// MetricStore persists prompt metrics.
type MetricStore interface {
	SavePromptMetric(ctx context.Context, metric *model.PromptMetric) (int64, error)
	PromptMetricsSince(ctx context.Context, since time.Time) ([]model.PromptMetric, error)
}

// Storage is the full persistence contract implemented by the SQLite store.
type Storage interface {
	ReceiptStore
	PredictionStore
	SessionStore
	FeedbackStore
	LearningStore
	MetricStore

	Migrate(ctx context.Context) error
	Close() error
}

// Messenger delivers outbound text to a user.
type Messenger interface {
	Send(ctx context.Context, userID, text string) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Notifier raises operator-facing alerts. Implementations must not block the caller
// for long; failures are logged by callers and never change the flow.
type Notifier interface {
	Notify(ctx context.Context, title, text string) error
}
