package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/pattern"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
	"github.com/joshsymonds/the-pantry-must-flow/internal/session"
)

// Store is the persistence the grocery flow needs.
type Store interface {
	CountReceipts(ctx context.Context, userID string) (int, error)
	RecentReceipts(ctx context.Context, userID string, limit int) ([]model.Receipt, error)
	ItemsForReceipts(ctx context.Context, receiptIDs []int64) ([]model.ReceiptItem, error)
	SavePrediction(ctx context.Context, prediction *model.Prediction) (int64, error)
}

// PromptBuilder renders purchase history into a prompt.
type PromptBuilder interface {
	Build(ctx context.Context, items []model.ReceiptItem, today time.Time) (string, pattern.Patterns)
}

// Predictor produces a validated prediction from a prompt.
type Predictor interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Sessions opens and supersedes feedback sessions.
type Sessions interface {
	ExpiryFor(t time.Time) time.Time
	Open(ctx context.Context, prediction *model.Prediction) (*model.FeedbackSession, error)
	ActiveSession(ctx context.Context, userID string, grace bool) (*model.FeedbackSession, error)
	Close(ctx context.Context, s *model.FeedbackSession, status model.SessionStatus) session.TransitionResult
}

// Config holds the grocery flow settings.
type Config struct {
	Location       *time.Location
	MinReceipts    int
	RecentReceipts int
}

// DefaultConfig returns the default grocery flow settings.
func DefaultConfig() Config {
	return Config{
		Location:       time.UTC,
		MinReceipts:    25,
		RecentReceipts: 50,
	}
}

// Outcome reports what a grocery request achieved. A prediction can be delivered
// without being saved, in which case no session exists for it.
type Outcome struct {
	Err           error
	StorageErr    error
	SessionErr    error
	DeliveryErr   error
	Prediction    *model.Prediction
	Session       *model.FeedbackSession
	ReceiptCount  int
	Saved         bool
	SessionOpened bool
	Delivered     bool
}

// Service runs the grocery request flow.
type Service struct {
	store     Store
	prompts   PromptBuilder
	predictor Predictor
	sessions  Sessions
	messenger service.Messenger
	logger    *slog.Logger
	now       func() time.Time
	config    Config
}

// NewService wires the grocery flow.
func NewService(store Store, prompts PromptBuilder, predictor Predictor, sessions Sessions, messenger service.Messenger, config Config) *Service {
	defaults := DefaultConfig()
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if config.MinReceipts <= 0 {
		config.MinReceipts = defaults.MinReceipts
	}
	if config.RecentReceipts <= 0 {
		config.RecentReceipts = defaults.RecentReceipts
	}
	return &Service{
		store:     store,
		prompts:   prompts,
		predictor: predictor,
		sessions:  sessions,
		messenger: messenger,
		config:    config,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Request generates, stores and sends a shopping prediction for userID. Every path
// ends with a message to the user; the returned Outcome records what was persisted
// and what was delivered.
func (s *Service) Request(ctx context.Context, userID string) Outcome {
	var out Outcome

	count, err := s.store.CountReceipts(ctx, userID)
	if err != nil {
		out.Err = fmt.Errorf("failed to count receipts: %w", err)
		s.reply(ctx, &out, userID, msgUnexpected)
		return out
	}
	out.ReceiptCount = count

	if count < s.config.MinReceipts {
		s.logger.Info("not enough receipts for a prediction", "user", userID, "count", count, "min", s.config.MinReceipts)
		s.reply(ctx, &out, userID, InsufficientReceiptsMessage(count, s.config.MinReceipts))
		return out
	}

	if err := s.messenger.Send(ctx, userID, AnalyzingMessage(count)); err != nil {
		s.logger.Warn("failed to acknowledge grocery request", "user", userID, "error", err)
	}

	receipts, err := s.store.RecentReceipts(ctx, userID, s.config.RecentReceipts)
	if err != nil || len(receipts) == 0 {
		out.Err = fmt.Errorf("failed to fetch receipts: %w", errOrEmpty(err))
		s.reply(ctx, &out, userID, msgNoReceipts)
		return out
	}

	ids := make([]int64, len(receipts))
	for i, r := range receipts {
		ids[i] = r.ID
	}
	items, err := s.store.ItemsForReceipts(ctx, ids)
	if err != nil || len(items) == 0 {
		out.Err = fmt.Errorf("failed to fetch receipt items: %w", errOrEmpty(err))
		s.reply(ctx, &out, userID, msgNoItems)
		return out
	}

	now := s.now()
	prompt, patterns := s.prompts.Build(ctx, items, now.In(s.config.Location))
	if len(patterns) == 0 {
		out.Err = errors.New("no purchase patterns")
		s.reply(ctx, &out, userID, msgNoPatterns)
		return out
	}

	result, err := s.predictor.Generate(ctx, Request{Prompt: prompt, UserID: userID})
	if err != nil {
		out.Err = err
		s.logger.Error("prediction failed", "user", userID, "error", err)
		s.reply(ctx, &out, userID, msgGenerateFailed)
		return out
	}

	out.Prediction = &model.Prediction{
		UserID:         userID,
		DateRangeStart: result.DateRangeStart,
		DateRangeEnd:   result.DateRangeEnd,
		Items:          result.Items,
		Reasoning:      result.Reasoning,
		Provider:       result.Provider,
		Prompt:         prompt,
		Status:         model.PredictionPendingFeedback,
		CreatedAt:      now,
		ExpiresAt:      s.sessions.ExpiryFor(now),
	}

	id, err := s.store.SavePrediction(ctx, out.Prediction)
	if err != nil {
		out.StorageErr = common.NewStorageError("save prediction", err)
		s.logger.Error("prediction not saved, sending without a feedback session", "user", userID, "error", err)
	} else {
		out.Prediction.ID = id
		out.Saved = true
		out.Session, out.SessionErr = s.openSession(ctx, out.Prediction)
		out.SessionOpened = out.Session != nil
	}

	s.reply(ctx, &out, userID, FormatMessage(result))
	return out
}

// openSession opens the feedback session for a saved prediction. A newer prediction
// supersedes a still-open session: the old one is cancelled and opening is retried once.
func (s *Service) openSession(ctx context.Context, p *model.Prediction) (*model.FeedbackSession, error) {
	sess, err := s.sessions.Open(ctx, p)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrActiveSessionExists) {
		s.logger.Error("failed to open feedback session", "prediction_id", p.ID, "error", err)
		return nil, err
	}

	previous, lookupErr := s.sessions.ActiveSession(ctx, p.UserID, true)
	if lookupErr != nil || previous == nil {
		s.logger.Warn("active session blocks a new one but could not be loaded", "user", p.UserID, "error", lookupErr)
		return nil, err
	}
	if res := s.sessions.Close(ctx, previous, model.SessionCancelled); !res.Persisted {
		return nil, fmt.Errorf("failed to supersede session %d: %w", previous.ID, res.Err)
	}
	s.logger.Info("superseded feedback session", "session_id", previous.ID, "prediction_id", p.ID)

	sess, err = s.sessions.Open(ctx, p)
	if err != nil {
		s.logger.Error("failed to open feedback session", "prediction_id", p.ID, "error", err)
		return nil, err
	}
	return sess, nil
}

func (s *Service) reply(ctx context.Context, out *Outcome, userID, text string) {
	if err := s.messenger.Send(ctx, userID, text); err != nil {
		out.DeliveryErr = err
		s.logger.Warn("failed to deliver grocery reply", "user", userID, "error", err)
		return
	}
	out.Delivered = true
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return common.ErrNotFound
}
