package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/the-pantry-must-flow/internal/learning"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/prediction"
	"github.com/joshsymonds/the-pantry-must-flow/internal/receipt"
	"github.com/joshsymonds/the-pantry-must-flow/internal/session"
	"github.com/joshsymonds/the-pantry-must-flow/internal/testutil"
	"github.com/joshsymonds/the-pantry-must-flow/internal/whatsapp"
)

var testNow = time.Date(2024, 1, 21, 9, 30, 0, 0, time.UTC)

const testUser = "61400000001"

func TestMatch(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"Groceries", IntentGrocery},
		{"  what should I buy?", IntentGrocery},
		{"hi, can you predict my shop", IntentGrocery},
		{"no", IntentNoResponse},
		{"No thanks", IntentNoResponse},
		{"nah", IntentNoResponse},
		{"didn't shop today", IntentNoResponse},
		{"nothing", IntentUnknown},
		{"no more", IntentNoMoreReceipts},
		{"No others", IntentNoMoreReceipts},
		{"done", IntentNoMoreReceipts},
		{"that's all folks", IntentNoMoreReceipts},
		{"Hello there", IntentGreeting},
		{"hey", IntentGreeting},
		{"good morning!", IntentGreeting},
		{"bye", IntentFarewell},
		{"ok see you", IntentFarewell},
		{"", IntentUnknown},
		{"what's the weather", IntentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.text), "got %s", Match(tt.text))
		})
	}
}

type fakeGrocery struct {
	out   prediction.Outcome
	users []string
}

func (f *fakeGrocery) Request(_ context.Context, userID string) prediction.Outcome {
	f.users = append(f.users, userID)
	return f.out
}

type fakeReceipts struct {
	mediaIDs []string
}

func (f *fakeReceipts) HandleImage(_ context.Context, _, mediaID, _ string) (*receipt.Result, error) {
	f.mediaIDs = append(f.mediaIDs, mediaID)
	return &receipt.Result{}, nil
}

type fakeLearner struct {
	err   error
	calls int
}

func (f *fakeLearner) Trigger(context.Context) (*model.LearningUpdate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &model.LearningUpdate{ID: 1}, nil
}

type recordingMessenger struct {
	sent []string
}

func (r *recordingMessenger) Send(_ context.Context, _ string, text string) error {
	r.sent = append(r.sent, text)
	return nil
}

type fixture struct {
	db        *testutil.TestDB
	sessions  *session.Manager
	grocery   *fakeGrocery
	receipts  *fakeReceipts
	learner   *fakeLearner
	messenger *recordingMessenger
	bot       *Bot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t, testNow)
	sessions := session.New(db.Storage)
	sessions.SetClock(func() time.Time { return testNow })

	f := &fixture{
		db:        db,
		sessions:  sessions,
		grocery:   &fakeGrocery{},
		receipts:  &fakeReceipts{},
		learner:   &fakeLearner{err: learning.ErrBelowThreshold},
		messenger: &recordingMessenger{},
	}
	f.bot = New(f.grocery, f.receipts, sessions, f.learner, f.messenger)
	return f
}

func (f *fixture) openSession(t *testing.T) *model.FeedbackSession {
	t.Helper()
	s, err := f.sessions.Open(context.Background(), f.db.SavePrediction(testUser))
	require.NoError(t, err)
	return s
}

func text(body string) whatsapp.Event {
	return whatsapp.Event{MessageID: "wamid.1", Sender: testUser, Type: whatsapp.TypeText, Body: body}
}

func TestBot_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("grocery", func(t *testing.T) {
		f := newFixture(t)
		f.grocery.out = prediction.Outcome{DeliveryErr: errors.New("graph API down")}
		err := f.bot.Handle(ctx, text("groceries"))
		assert.ErrorContains(t, err, "graph API down")
		assert.Equal(t, []string{testUser}, f.grocery.users)
	})

	t.Run("image", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.bot.Handle(ctx, whatsapp.Event{Sender: testUser, Type: whatsapp.TypeImage, Body: "media-7"}))
		assert.Equal(t, []string{"media-7"}, f.receipts.mediaIDs)
	})

	t.Run("unsupported type is ignored", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.bot.Handle(ctx, whatsapp.Event{Sender: testUser, Type: "sticker"}))
		assert.Empty(t, f.messenger.sent)
	})

	t.Run("greeting, farewell and fallback", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.bot.Handle(ctx, text("hello")))
		require.NoError(t, f.bot.Handle(ctx, text("bye")))
		require.NoError(t, f.bot.Handle(ctx, text("what's the weather")))
		assert.Equal(t, []string{msgGreeting, msgFarewell, msgFallback}, f.messenger.sent)
	})
}

func TestBot_SessionReplies(t *testing.T) {
	ctx := context.Background()

	t.Run("no cancels the session", func(t *testing.T) {
		f := newFixture(t)
		s := f.openSession(t)

		require.NoError(t, f.bot.Handle(ctx, text("no")))
		assert.Equal(t, []string{msgSessionCancelled}, f.messenger.sent)

		stored, err := f.db.Storage.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionCancelled, stored.Status)
		assert.Zero(t, f.learner.calls)
	})

	t.Run("no without a session", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.bot.Handle(ctx, text("nope")))
		assert.Equal(t, []string{msgNoSessionNo}, f.messenger.sent)
	})

	t.Run("done closes the session below the learning threshold", func(t *testing.T) {
		f := newFixture(t)
		s := f.openSession(t)

		require.NoError(t, f.bot.Handle(ctx, text("no more")))
		assert.Equal(t, []string{msgSessionClosed}, f.messenger.sent)
		assert.Equal(t, 1, f.learner.calls)

		stored, err := f.db.Storage.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionReceiptSubmitted, stored.Status)
	})

	t.Run("done creates a learning update", func(t *testing.T) {
		f := newFixture(t)
		f.learner.err = nil
		f.openSession(t)

		require.NoError(t, f.bot.Handle(ctx, text("done")))
		assert.Equal(t, []string{msgLearningStarted}, f.messenger.sent)
	})

	t.Run("learning failure still answers", func(t *testing.T) {
		f := newFixture(t)
		f.learner.err = errors.New("database is locked")
		f.openSession(t)

		require.NoError(t, f.bot.Handle(ctx, text("that's it")))
		assert.Equal(t, []string{msgSessionClosed}, f.messenger.sent)
	})

	t.Run("done without a session", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.bot.Handle(ctx, text("done")))
		assert.Equal(t, []string{msgNoSessionDone}, f.messenger.sent)
		assert.Zero(t, f.learner.calls)
	})
}
