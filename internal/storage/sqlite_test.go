package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 21, 9, 30, 0, 0, time.UTC)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	store.SetClock(func() time.Time { return testNow })

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func createTestReceipt(t *testing.T, s *SQLiteStorage, userID, imageRef string, purchased time.Time, items ...string) int64 {
	t.Helper()
	ctx := context.Background()

	id, err := s.CreateReceipt(ctx, &model.Receipt{UserID: userID, ImageRef: imageRef, CreatedAt: purchased})
	require.NoError(t, err)

	date := purchased
	require.NoError(t, s.MarkReceiptExtracted(ctx, id, "text", "Store", &date))

	if len(items) > 0 {
		lines := make([]model.ReceiptItem, len(items))
		for i, name := range items {
			lines[i] = model.ReceiptItem{Name: name, NormalizedName: name, Quantity: 1}
		}
		_, err = s.SaveReceiptItems(ctx, id, lines)
		require.NoError(t, err)
	}
	return id
}

func createTestPrediction(t *testing.T, s *SQLiteStorage, userID string, items ...string) int64 {
	t.Helper()
	if len(items) == 0 {
		items = []string{"Milk"}
	}
	id, err := s.SavePrediction(context.Background(), &model.Prediction{
		UserID:         userID,
		Items:          items,
		Provider:       "gemini",
		DateRangeStart: testNow,
		DateRangeEnd:   testNow.AddDate(0, 0, 3),
		ExpiresAt:      testNow.Add(5 * time.Hour),
	})
	require.NoError(t, err)
	return id
}

func TestSQLiteStorage_NewInMemory(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Migrate(context.Background()))
	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)
}

func TestSQLiteStorage_Receipts(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	receipt := &model.Receipt{UserID: "61400000000", ImageRef: "media-1", MimeType: "image/jpeg", FileSize: 1024}
	id, err := store.CreateReceipt(ctx, receipt)
	require.NoError(t, err)
	assert.Equal(t, id, receipt.ID)

	got, err := store.GetReceipt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionPending, got.ExtractionStatus)
	assert.Equal(t, "image/jpeg", got.MimeType)
	assert.Nil(t, got.PurchaseDate)
	assert.Equal(t, testNow, got.CreatedAt)

	_, err = store.CreateReceipt(ctx, &model.Receipt{UserID: "61400000000", ImageRef: "media-1"})
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)

	found, err := store.FindReceiptByImageRef(ctx, "61400000000", "media-1")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	_, err = store.FindReceiptByImageRef(ctx, "someone-else", "media-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	purchased := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkReceiptExtracted(ctx, id, "MILK 2.50", "Coles", &purchased))

	got, err = store.GetReceipt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionSuccess, got.ExtractionStatus)
	assert.Equal(t, "Coles", got.StoreName)
	require.NotNil(t, got.PurchaseDate)
	assert.Equal(t, purchased, *got.PurchaseDate)

	count, err := store.SaveReceiptItems(ctx, id, []model.ReceiptItem{
		{Name: "MILK 2L", NormalizedName: "Milk", Quantity: 1, UnitPrice: 2.5, TotalPrice: 2.5},
		{Name: "BREAD", NormalizedName: "Bread", Quantity: 2, UnitPrice: 3, TotalPrice: 6},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	items, err := store.ItemsForReceipts(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Milk", items[0].NormalizedName)
	assert.Equal(t, purchased, items[0].PurchaseDate)
	assert.InDelta(t, 6.0, items[1].TotalPrice, 0.001)

	require.NoError(t, store.MarkReceiptFailed(ctx, id, "ocr timeout"))
	got, err = store.GetReceipt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionFailed, got.ExtractionStatus)
	assert.Equal(t, "ocr timeout", got.FailureReason)

	assert.ErrorIs(t, store.MarkReceiptFailed(ctx, 9999, "x"), common.ErrNotFound)
}

func TestSQLiteStorage_RecentAndPendingReceipts(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := store.CreateReceipt(ctx, &model.Receipt{
			UserID:    "u1",
			ImageRef:  string(rune('a' + i)),
			CreatedAt: testNow.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := store.CreateReceipt(ctx, &model.Receipt{UserID: "u2", ImageRef: "z"})
	require.NoError(t, err)

	count, err := store.CountReceipts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	recent, err := store.RecentReceipts(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].ImageRef)
	assert.Equal(t, "c", recent[1].ImageRef)

	pending, err := store.PendingReceiptsSince(ctx, "u1", testNow.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "c", pending[0].ImageRef)
}

func TestSQLiteStorage_ItemsForReceiptsFallsBackToCreatedDay(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	id, err := store.CreateReceipt(ctx, &model.Receipt{UserID: "u1", ImageRef: "r"})
	require.NoError(t, err)
	_, err = store.SaveReceiptItems(ctx, id, []model.ReceiptItem{{NormalizedName: "Eggs"}})
	require.NoError(t, err)

	items, err := store.ItemsForReceipts(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Eggs", items[0].Name)
	assert.Equal(t, time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC), items[0].PurchaseDate)

	empty, err := store.ItemsForReceipts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteStorage_Predictions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	id := createTestPrediction(t, store, "u1", "Milk", "Bread")

	got, err := store.GetPrediction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Milk", "Bread"}, got.Items)
	assert.Equal(t, model.PredictionPendingFeedback, got.Status)
	assert.Equal(t, "2024-01-24", got.DateRangeEnd.Format("2006-01-02"))

	require.NoError(t, store.UpdatePredictionStatus(ctx, id, model.PredictionFeedbackDone))
	got, err = store.GetPrediction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PredictionFeedbackDone, got.Status)

	assert.ErrorIs(t, store.UpdatePredictionStatus(ctx, id, "bogus"), ErrInvalidStatus)
	_, err = store.GetPrediction(ctx, 404)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_SessionLifecycle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	first := createTestPrediction(t, store, "u1")
	second := createTestPrediction(t, store, "u1")

	session := &model.FeedbackSession{UserID: "u1", PredictionID: first, ExpiresAt: testNow.Add(time.Hour)}
	id, err := store.CreateWaitingSession(ctx, session)
	require.NoError(t, err)

	_, err = store.CreateWaitingSession(ctx, &model.FeedbackSession{UserID: "u1", PredictionID: second, ExpiresAt: testNow.Add(time.Hour)})
	require.ErrorIs(t, err, common.ErrDuplicateEntry)

	active, err := store.LatestWaitingSession(ctx, "u1", testNow)
	require.NoError(t, err)
	assert.Equal(t, id, active.ID)

	require.NoError(t, store.ExtendSession(ctx, id, testNow.Add(2*time.Hour)))
	active, err = store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(2*time.Hour), active.ExpiresAt)

	require.NoError(t, store.CloseSession(ctx, id, model.SessionCancelled, testNow))
	closed, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCancelled, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	assert.ErrorIs(t, store.ExtendSession(ctx, id, testNow.Add(3*time.Hour)), common.ErrNotFound)
	assert.ErrorIs(t, store.CloseSession(ctx, id, model.SessionExpired, testNow), common.ErrNotFound)
	assert.ErrorIs(t, store.CloseSession(ctx, id, model.SessionWaiting, testNow), ErrInvalidStatus)

	_, err = store.LatestWaitingSession(ctx, "u1", testNow)
	assert.ErrorIs(t, err, common.ErrNotFound)

	// The unique index only covers waiting rows.
	_, err = store.CreateWaitingSession(ctx, &model.FeedbackSession{UserID: "u1", PredictionID: second, ExpiresAt: testNow.Add(time.Hour)})
	require.NoError(t, err)
}

func TestSQLiteStorage_ExpireLapsedSessions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	lapsed := createTestPrediction(t, store, "u1")
	live := createTestPrediction(t, store, "u2")

	_, err := store.CreateWaitingSession(ctx, &model.FeedbackSession{UserID: "u1", PredictionID: lapsed, ExpiresAt: testNow.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = store.CreateWaitingSession(ctx, &model.FeedbackSession{UserID: "u2", PredictionID: live, ExpiresAt: testNow.Add(time.Hour)})
	require.NoError(t, err)

	n, err := store.ExpireLapsedSessions(ctx, "u2", testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = store.ExpireLapsedSessions(ctx, "", testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStorage_SessionsDueReminder(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	old := createTestPrediction(t, store, "u1")
	fresh := createTestPrediction(t, store, "u2")

	oldID, err := store.CreateWaitingSession(ctx, &model.FeedbackSession{
		UserID: "u1", PredictionID: old, CreatedAt: testNow.Add(-6 * time.Hour), ExpiresAt: testNow.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = store.CreateWaitingSession(ctx, &model.FeedbackSession{
		UserID: "u2", PredictionID: fresh, CreatedAt: testNow.Add(-time.Hour), ExpiresAt: testNow.Add(time.Hour),
	})
	require.NoError(t, err)

	due, err := store.SessionsDueReminder(ctx, testNow.Add(-5*time.Hour), testNow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, oldID, due[0].ID)

	require.NoError(t, store.MarkReminderSent(ctx, oldID, testNow))
	assert.ErrorIs(t, store.MarkReminderSent(ctx, oldID, testNow), common.ErrNotFound)

	due, err = store.SessionsDueReminder(ctx, testNow.Add(-5*time.Hour), testNow)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSQLiteStorage_FeedbackAndLearning(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		predictionID := createTestPrediction(t, store, "u1")
		receiptID := createTestReceipt(t, store, "u1", string(rune('a'+i)), testNow)
		id, err := store.SaveFeedback(ctx, &model.Feedback{
			PredictionID:    predictionID,
			ReceiptID:       receiptID,
			UserID:          "u1",
			MatchPercentage: 50,
			MatchedItems:    []string{"Milk"},
			MissingItems:    []string{"Eggs"},
			CreatedAt:       testNow.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, id)

		if i == 0 {
			_, err = store.SaveFeedback(ctx, &model.Feedback{PredictionID: predictionID, ReceiptID: receiptID, UserID: "u1"})
			assert.ErrorIs(t, err, common.ErrDuplicateEntry)
		}
	}

	pending, err := store.CountPendingFeedback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	recent, err := store.RecentPendingFeedback(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, []string{"Eggs"}, recent[0].MissingItems)
	assert.Empty(t, recent[0].ExtraItems)

	update := &model.LearningUpdate{
		UpdateType:      "batch_analysis",
		FeedbackCount:   2,
		AverageAccuracy: 50,
		TopMissingItems: []model.ItemFrequency{{Item: "Eggs", Frequency: 2}},
	}
	updateID, err := store.SaveLearningUpdate(ctx, update, []int64{recent[0].ID, recent[1].ID})
	require.NoError(t, err)
	assert.Positive(t, updateID)

	pending, err = store.CountPendingFeedback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	// Linking an already linked row rolls the whole update back.
	_, err = store.SaveLearningUpdate(ctx, &model.LearningUpdate{UpdateType: "batch_analysis"}, []int64{ids[0], ids[2]})
	require.ErrorIs(t, err, common.ErrNotFound)

	updates, err := store.LearningUpdatesSince(ctx, testNow.AddDate(0, 0, -60), 10)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, []model.ItemFrequency{{Item: "Eggs", Frequency: 2}}, updates[0].TopMissingItems)
	assert.Empty(t, updates[0].TopExtraItems)
	assert.Equal(t, model.TrendStable, updates[0].Trend)

	pending, err = store.CountPendingFeedback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestSQLiteStorage_PromptMetrics(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	predictionID := createTestPrediction(t, store, "u1")
	_, err := store.SavePromptMetric(ctx, &model.PromptMetric{
		UserID: "u1", Provider: "gemini", PromptChars: 400, EstimatedTokens: 100, RequestSuccessful: true,
	})
	require.NoError(t, err)
	_, err = store.SavePromptMetric(ctx, &model.PromptMetric{
		UserID: "u1", Provider: "openai", PredictionID: &predictionID, ContextLimitHit: true,
		ErrorMessage: "maximum context length", ErrorCode: "400",
	})
	require.NoError(t, err)

	_, err = store.SavePromptMetric(ctx, &model.PromptMetric{UserID: "u1"})
	assert.ErrorIs(t, err, ErrEmptyString)

	metrics, err := store.PromptMetricsSince(ctx, testNow.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Nil(t, metrics[0].PredictionID)
	assert.True(t, metrics[0].RequestSuccessful)
	require.NotNil(t, metrics[1].PredictionID)
	assert.Equal(t, predictionID, *metrics[1].PredictionID)
	assert.True(t, metrics[1].ContextLimitHit)
	assert.Equal(t, "400", metrics[1].ErrorCode)
}

func TestSQLiteStorage_NilContext(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	//nolint:staticcheck // exercising the nil guard
	_, err := store.CountReceipts(nil, "u1")
	assert.True(t, errors.Is(err, ErrNilContext))
}
