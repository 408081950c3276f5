package prediction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/llm"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/pattern"
	"github.com/joshsymonds/the-pantry-must-flow/internal/session"
	"github.com/joshsymonds/the-pantry-must-flow/internal/testutil"
)

const testUser = "61400000001"

type recordingMessenger struct {
	failOn map[int]error
	sent   []string
}

func (r *recordingMessenger) Send(_ context.Context, _ string, text string) error {
	r.sent = append(r.sent, text)
	if err, ok := r.failOn[len(r.sent)]; ok {
		return err
	}
	return nil
}

type flowFixture struct {
	db        *testutil.TestDB
	sessions  *session.Manager
	messenger *recordingMessenger
	provider  *stubProvider
	svc       *Service
}

func newFlow(t *testing.T) *flowFixture {
	t.Helper()
	db := testutil.SetupTestDB(t, testNow)

	sessions := session.New(db.Storage)
	sessions.SetClock(func() time.Time { return testNow })

	provider := &stubProvider{name: "gemini", text: validJSON}
	gen := NewGenerator([]llm.Provider{provider}, db.Storage)
	messenger := &recordingMessenger{}

	svc := NewService(db.Storage, pattern.NewBuilder(nil, nil), gen, sessions, messenger, Config{MinReceipts: 3})
	svc.SetClock(func() time.Time { return testNow })

	return &flowFixture{db: db, sessions: sessions, messenger: messenger, provider: provider, svc: svc}
}

func (f *flowFixture) seedHistory(t *testing.T, n int) {
	t.Helper()
	testutil.NewHistory(t, testUser).Repeat(n, "2024-01-20", "Milk", "Bread").Build(f.db)
}

func TestService_Request(t *testing.T) {
	ctx := context.Background()

	t.Run("not enough receipts", func(t *testing.T) {
		f := newFlow(t)
		f.seedHistory(t, 2)

		out := f.svc.Request(ctx, testUser)
		assert.Equal(t, 2, out.ReceiptCount)
		assert.True(t, out.Delivered)
		assert.False(t, out.Saved)
		require.Len(t, f.messenger.sent, 1)
		assert.Equal(t, InsufficientReceiptsMessage(2, 3), f.messenger.sent[0])
		assert.Contains(t, f.messenger.sent[0], "once you have 1 more receipts")
		assert.Zero(t, f.provider.calls)
	})

	t.Run("saves, opens a session and sends the list", func(t *testing.T) {
		f := newFlow(t)
		f.seedHistory(t, 3)

		out := f.svc.Request(ctx, testUser)
		require.NoError(t, out.Err)
		assert.True(t, out.Saved)
		assert.True(t, out.SessionOpened)
		assert.True(t, out.Delivered)
		require.NotNil(t, out.Prediction)
		assert.Equal(t, "gemini", out.Prediction.Provider)
		assert.True(t, out.Prediction.ExpiresAt.Equal(out.Session.ExpiresAt))
		assert.Contains(t, out.Prediction.Prompt, "Milk")

		require.Len(t, f.messenger.sent, 2)
		assert.Equal(t, AnalyzingMessage(3), f.messenger.sent[0])
		assert.Contains(t, f.messenger.sent[1], "1. Milk\n2. Bread\n3. Eggs\n")

		stored, err := f.db.Storage.GetSession(ctx, out.Session.ID)
		require.NoError(t, err)
		assert.Equal(t, out.Prediction.ID, stored.PredictionID)
		assert.Equal(t, model.SessionWaiting, stored.Status)
	})

	t.Run("a new prediction supersedes the open session", func(t *testing.T) {
		f := newFlow(t)
		f.seedHistory(t, 3)

		first := f.svc.Request(ctx, testUser)
		require.True(t, first.SessionOpened)

		second := f.svc.Request(ctx, testUser)
		require.NoError(t, second.SessionErr)
		assert.True(t, second.SessionOpened)
		assert.NotEqual(t, first.Session.ID, second.Session.ID)

		old, err := f.db.Storage.GetSession(ctx, first.Session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionCancelled, old.Status)
	})

	t.Run("unsaved prediction is still sent", func(t *testing.T) {
		f := newFlow(t)
		f.svc.store = &failingSaveStore{Store: f.db.Storage}
		f.seedHistory(t, 3)

		out := f.svc.Request(ctx, testUser)
		assert.False(t, out.Saved)
		assert.False(t, out.SessionOpened)
		assert.True(t, out.Delivered)
		assert.True(t, common.IsStorageError(out.StorageErr))
		require.Len(t, f.messenger.sent, 2)
		assert.Contains(t, f.messenger.sent[1], "🛒 *Shopping List*")
	})

	t.Run("generation failure", func(t *testing.T) {
		f := newFlow(t)
		f.seedHistory(t, 3)
		f.provider.text = "no idea"

		out := f.svc.Request(ctx, testUser)
		assert.ErrorIs(t, out.Err, ErrAllProvidersFailed)
		assert.Nil(t, out.Prediction)
		assert.Equal(t, msgGenerateFailed, f.messenger.sent[len(f.messenger.sent)-1])
	})

	t.Run("receipts without items", func(t *testing.T) {
		f := newFlow(t)
		testutil.NewHistory(t, testUser).Receipt("2024-01-18").Receipt("2024-01-19").Receipt("2024-01-20").Build(f.db)

		out := f.svc.Request(ctx, testUser)
		assert.Error(t, out.Err)
		assert.Equal(t, msgNoItems, f.messenger.sent[len(f.messenger.sent)-1])
	})

	t.Run("delivery failure keeps the saved state", func(t *testing.T) {
		f := newFlow(t)
		f.seedHistory(t, 3)
		f.messenger.failOn = map[int]error{2: errors.New("graph API 500")}

		out := f.svc.Request(ctx, testUser)
		assert.True(t, out.Saved)
		assert.True(t, out.SessionOpened)
		assert.False(t, out.Delivered)
		assert.Error(t, out.DeliveryErr)
	})
}

// failingSaveStore rejects every prediction write.
type failingSaveStore struct {
	Store
}

func (f *failingSaveStore) SavePrediction(context.Context, *model.Prediction) (int64, error) {
	return 0, errors.New("disk full")
}

func TestFormatMessage(t *testing.T) {
	long := ""
	for i := 0; i < 40; i++ {
		long += "abcde"
	}
	r := &Result{
		DateRangeStart: time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC),
		DateRangeEnd:   time.Date(2024, 1, 24, 0, 0, 0, 0, time.UTC),
		Items:          []string{"Milk", "Bread"},
		Reasoning:      long,
	}

	got := FormatMessage(r)
	want := "🛒 *Shopping List*\n\n*When:* 2024-01-22 - 2024-01-24\n\n*Items:*\n1. Milk\n2. Bread\n" +
		"\n💡 " + long[:150] + "..." +
		"\n\n📸 Send your receipt after shopping!"
	assert.Equal(t, want, got)

	r.Reasoning = ""
	assert.NotContains(t, FormatMessage(r), "💡")
}
