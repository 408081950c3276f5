package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// HistoryBuilder provides a fluent interface for seeding a user's receipts.
type HistoryBuilder struct {
	t        *testing.T
	userID   string
	receipts []seedReceipt
}

type seedReceipt struct {
	date  string
	items []string
}

// NewHistory starts a purchase history for userID.
func NewHistory(t *testing.T, userID string) *HistoryBuilder {
	t.Helper()
	return &HistoryBuilder{t: t, userID: userID}
}

// Receipt adds one extracted receipt purchased on date (YYYY-MM-DD).
func (b *HistoryBuilder) Receipt(date string, items ...string) *HistoryBuilder {
	b.receipts = append(b.receipts, seedReceipt{date: date, items: items})
	return b
}

// Repeat adds n receipts on consecutive days ending at last, each with the same items.
func (b *HistoryBuilder) Repeat(n int, last string, items ...string) *HistoryBuilder {
	b.t.Helper()
	end, err := time.Parse("2006-01-02", last)
	if err != nil {
		b.t.Fatalf("invalid date %q: %v", last, err)
	}
	for i := n - 1; i >= 0; i-- {
		b.Receipt(end.AddDate(0, 0, -i).Format("2006-01-02"), items...)
	}
	return b
}

// Build writes the receipts and returns their IDs in insertion order.
func (b *HistoryBuilder) Build(db *TestDB) []int64 {
	b.t.Helper()
	ctx := context.Background()

	ids := make([]int64, 0, len(b.receipts))
	for i, r := range b.receipts {
		date, err := time.Parse("2006-01-02", r.date)
		if err != nil {
			b.t.Fatalf("invalid date %q: %v", r.date, err)
		}

		id, err := db.Storage.CreateReceipt(ctx, &model.Receipt{
			UserID:    b.userID,
			ImageRef:  fmt.Sprintf("seed-%s-%d", b.userID, i),
			CreatedAt: date.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			b.t.Fatalf("failed to seed receipt: %v", err)
		}
		if err := db.Storage.MarkReceiptExtracted(ctx, id, "", "Seed Store", &date); err != nil {
			b.t.Fatalf("failed to mark receipt extracted: %v", err)
		}

		if len(r.items) > 0 {
			items := make([]model.ReceiptItem, len(r.items))
			for j, name := range r.items {
				items[j] = model.ReceiptItem{Name: name, NormalizedName: name, Quantity: 1}
			}
			if _, err := db.Storage.SaveReceiptItems(ctx, id, items); err != nil {
				b.t.Fatalf("failed to seed receipt items: %v", err)
			}
		}
		ids = append(ids, id)
	}
	return ids
}
