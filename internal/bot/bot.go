// Package bot routes inbound WhatsApp events to the grocery, receipt and session
// handlers and answers everything else.
package bot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joshsymonds/the-pantry-must-flow/internal/learning"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/prediction"
	"github.com/joshsymonds/the-pantry-must-flow/internal/receipt"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
	"github.com/joshsymonds/the-pantry-must-flow/internal/session"
	"github.com/joshsymonds/the-pantry-must-flow/internal/whatsapp"
)

const (
	msgSessionCancelled = "👍 Got it! I've cancelled the feedback session. Feel free to send your receipt later if you change your mind."
	msgNoSessionNo      = "👍 No problem! Let me know when you're ready."
	msgLearningStarted  = "✅ Got it! I've closed the feedback session and started learning from your feedback. Thanks for helping me improve! 🎓"
	msgSessionClosed    = "✅ Got it! I've closed the feedback session. Thanks for your feedback! I'll use it to improve my predictions. 📊"
	msgNoSessionDone    = "👍 No problem! Let me know if you need anything else."
	msgFarewell         = "Take care! 👋 Send your receipts anytime and I'll keep learning your shopping habits."
	msgFallback         = "Sorry, I didn't understand that. Reply 'groceries' for your next shopping list, send a photo of a receipt, or say 'hi' for help."
	msgGreeting         = `Hey there! 👋

I'm your *Pantry Bot*. I learn what you buy from your receipts and predict your next shop.

*Here's what you can do:*

📸 *Send a receipt photo* - I'll read it and remember what you bought

🛒 *"groceries"* - Get a predicted shopping list for your next trip

✅ *"done"* - Tell me you've sent every receipt from a shopping trip

❌ *"no"* - Not shopping today? I'll stop waiting for your receipt

I need at least a few weeks of receipts before my predictions get good. 😊`
)

// Grocery runs the grocery request flow.
type Grocery interface {
	Request(ctx context.Context, userID string) prediction.Outcome
}

// Receipts handles receipt images.
type Receipts interface {
	HandleImage(ctx context.Context, userID, mediaID, mimeType string) (*receipt.Result, error)
}

// Sessions finds and closes feedback sessions.
type Sessions interface {
	ActiveSession(ctx context.Context, userID string, grace bool) (*model.FeedbackSession, error)
	Close(ctx context.Context, s *model.FeedbackSession, status model.SessionStatus) session.TransitionResult
}

// Learner folds pending feedback into a learning update.
type Learner interface {
	Trigger(ctx context.Context) (*model.LearningUpdate, error)
}

// Bot dispatches inbound events.
type Bot struct {
	grocery   Grocery
	receipts  Receipts
	sessions  Sessions
	learner   Learner
	messenger service.Messenger
	logger    *slog.Logger
}

// New creates a bot.
func New(grocery Grocery, receipts Receipts, sessions Sessions, learner Learner, messenger service.Messenger) *Bot {
	return &Bot{
		grocery:   grocery,
		receipts:  receipts,
		sessions:  sessions,
		learner:   learner,
		messenger: messenger,
		logger:    slog.Default(),
	}
}

// Handle processes one event. Returned errors are for logging; the user has already
// been answered where an answer makes sense.
func (b *Bot) Handle(ctx context.Context, ev whatsapp.Event) error {
	logger := b.logger.With("user", ev.Sender, "message_id", ev.MessageID)

	switch ev.Type {
	case whatsapp.TypeImage:
		_, err := b.receipts.HandleImage(ctx, ev.Sender, ev.Body, ev.MimeType)
		return err
	case whatsapp.TypeText:
	default:
		logger.Debug("ignoring unsupported message type", "type", ev.Type)
		return nil
	}

	intent := Match(ev.Body)
	logger.Info("text message", "intent", intent.String())

	switch intent {
	case IntentGrocery:
		out := b.grocery.Request(ctx, ev.Sender)
		return errors.Join(out.Err, out.StorageErr, out.SessionErr, out.DeliveryErr)
	case IntentNoResponse:
		return b.handleNo(ctx, ev.Sender)
	case IntentNoMoreReceipts:
		return b.handleDone(ctx, ev.Sender)
	case IntentGreeting:
		return b.messenger.Send(ctx, ev.Sender, msgGreeting)
	case IntentFarewell:
		return b.messenger.Send(ctx, ev.Sender, msgFarewell)
	default:
		return b.messenger.Send(ctx, ev.Sender, msgFallback)
	}
}

// handleNo cancels the open (or just lapsed) session.
func (b *Bot) handleNo(ctx context.Context, userID string) error {
	active, err := b.sessions.ActiveSession(ctx, userID, true)
	if err != nil {
		b.logger.Warn("active session lookup failed", "user", userID, "error", err)
	}
	if active == nil {
		return b.messenger.Send(ctx, userID, msgNoSessionNo)
	}

	if res := b.sessions.Close(ctx, active, model.SessionCancelled); !res.Persisted {
		b.logger.Warn("session cancel not persisted", "session_id", active.ID, "error", res.Err)
	}
	b.logger.Info("session cancelled by user", "session_id", active.ID, "user", userID)
	return b.messenger.Send(ctx, userID, msgSessionCancelled)
}

// handleDone closes the session as submitted and runs the learning trigger.
func (b *Bot) handleDone(ctx context.Context, userID string) error {
	active, err := b.sessions.ActiveSession(ctx, userID, true)
	if err != nil {
		b.logger.Warn("active session lookup failed", "user", userID, "error", err)
	}
	if active == nil {
		return b.messenger.Send(ctx, userID, msgNoSessionDone)
	}

	if res := b.sessions.Close(ctx, active, model.SessionReceiptSubmitted); !res.Persisted {
		b.logger.Warn("session close not persisted", "session_id", active.ID, "error", res.Err)
	}

	reply := msgSessionClosed
	update, err := b.learner.Trigger(ctx)
	switch {
	case err == nil:
		b.logger.Info("learning update created", "update_id", update.ID, "user", userID)
		reply = msgLearningStarted
	case errors.Is(err, learning.ErrBelowThreshold):
	default:
		b.logger.Error("learning trigger failed", "user", userID, "error", err)
	}
	return b.messenger.Send(ctx, userID, reply)
}
