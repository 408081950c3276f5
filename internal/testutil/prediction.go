package testutil

import (
	"context"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// SavePrediction stores a pending prediction for userID covering the two days after
// the pinned clock and returns it with its ID set.
func (db *TestDB) SavePrediction(userID string, items ...string) *model.Prediction {
	db.t.Helper()

	if len(items) == 0 {
		items = []string{"Milk", "Bread"}
	}
	p := &model.Prediction{
		UserID:         userID,
		Items:          items,
		Provider:       "gemini",
		Reasoning:      "seeded",
		DateRangeStart: db.now.AddDate(0, 0, 1),
		DateRangeEnd:   db.now.AddDate(0, 0, 2),
		ExpiresAt:      db.now.Add(5 * time.Hour),
		CreatedAt:      db.now,
	}
	id, err := db.Storage.SavePrediction(context.Background(), p)
	if err != nil {
		db.t.Fatalf("failed to seed prediction: %v", err)
	}
	p.ID = id
	return p
}
