// Package pattern turns receipt history into per-item purchase statistics and the
// prediction prompt built from them.
package pattern

import (
	"context"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// ItemPattern summarizes when one item has been bought.
type ItemPattern struct {
	LastPurchase  time.Time
	PurchaseDates []time.Time // distinct, newest first
	Name          string
	Frequency     int
	// AvgDaysBetween is rounded to one decimal. HasAverage is false with fewer than two dates.
	AvgDaysBetween float64
	HasAverage     bool
}

// Patterns maps an item name to its statistics.
type Patterns map[string]ItemPattern

// LearningSource supplies the feedback summary appended to prompts.
type LearningSource interface {
	Summarize(ctx context.Context) (model.LearningSummary, error)
}
