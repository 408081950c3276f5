// Package learning folds scored feedback into learning updates and summarizes
// recent updates for the prediction prompt.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/metrics"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
)

// ErrBelowThreshold is returned by Trigger when too little feedback is pending.
var ErrBelowThreshold = errors.New("not enough pending feedback")

const (
	updateTypeBatch   = "batch_learning"
	topItemCount      = 5
	minUpdatesForItem = 2
	summaryTrendMin   = 4
	summaryDeadband   = 2.0
)

// Store is the persistence the engine needs.
type Store interface {
	service.FeedbackStore
	service.LearningStore
}

// Config holds the learning thresholds.
type Config struct {
	Threshold  int
	WindowDays int
	MaxUpdates int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:  5,
		WindowDays: 60,
		MaxUpdates: 10,
	}
}

// Engine runs learning triggers and summaries.
type Engine struct {
	store    Store
	notifier service.Notifier
	metrics  *metrics.Collectors
	logger   *slog.Logger
	now      func() time.Time
	config   Config
}

// New creates an engine with the default configuration.
func New(store Store) *Engine {
	return NewWithConfig(store, DefaultConfig())
}

// NewWithConfig creates an engine with custom thresholds.
func NewWithConfig(store Store, config Config) *Engine {
	defaults := DefaultConfig()
	if config.Threshold <= 0 {
		config.Threshold = defaults.Threshold
	}
	if config.WindowDays <= 0 {
		config.WindowDays = defaults.WindowDays
	}
	if config.MaxUpdates <= 0 {
		config.MaxUpdates = defaults.MaxUpdates
	}
	return &Engine{
		store:  store,
		config: config,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetNotifier attaches an operator notifier for new learning updates.
func (e *Engine) SetNotifier(n service.Notifier) {
	e.notifier = n
}

// SetMetrics attaches Prometheus collectors.
func (e *Engine) SetMetrics(c *metrics.Collectors) {
	e.metrics = c
}

// Trigger creates a learning update from the most recent pending feedback once at
// least Threshold rows are pending. Exactly the analyzed rows are marked as folded.
func (e *Engine) Trigger(ctx context.Context) (*model.LearningUpdate, error) {
	pending, err := e.store.CountPendingFeedback(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending feedback: %w", err)
	}
	if pending < e.config.Threshold {
		return nil, fmt.Errorf("%w: %d of %d", ErrBelowThreshold, pending, e.config.Threshold)
	}

	feedback, err := e.store.RecentPendingFeedback(ctx, e.config.Threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending feedback: %w", err)
	}
	if len(feedback) == 0 {
		return nil, fmt.Errorf("%w: no rows returned", ErrBelowThreshold)
	}

	update := Analyze(feedback)
	update.CreatedAt = e.now()

	ids := make([]int64, len(feedback))
	for i, f := range feedback {
		ids[i] = f.ID
	}

	id, err := e.store.SaveLearningUpdate(ctx, update, ids)
	if err != nil {
		return nil, common.NewStorageError("save learning update", err)
	}
	update.ID = id
	e.metrics.LearningUpdateCreated()

	e.logger.Info("created learning update",
		"update_id", id,
		"feedback_count", update.FeedbackCount,
		"average_accuracy", update.AverageAccuracy,
		"trend", update.Trend)

	if e.notifier != nil {
		text := fmt.Sprintf("Learning update #%d from %d feedback rows: %.2f%% average accuracy (%s)",
			id, update.FeedbackCount, update.AverageAccuracy, update.Trend)
		if err := e.notifier.Notify(ctx, "Learning update created", text); err != nil {
			e.logger.Warn("failed to send learning notification", "update_id", id, "error", err)
		}
	}
	return update, nil
}

// Analyze computes a learning update from a batch of feedback ordered newest first.
// Missing and extra items are ranked by how many feedback rows mention them.
func Analyze(feedback []model.Feedback) *model.LearningUpdate {
	missing := make(map[string]int)
	extra := make(map[string]int)
	accuracies := make([]float64, len(feedback))

	for i, f := range feedback {
		for _, item := range f.MissingItems {
			missing[item]++
		}
		for _, item := range f.ExtraItems {
			extra[item]++
		}
		// oldest first for the trend
		accuracies[len(feedback)-1-i] = f.MatchPercentage
	}

	return &model.LearningUpdate{
		UpdateType:      updateTypeBatch,
		FeedbackCount:   len(feedback),
		AverageAccuracy: round2(mean(accuracies)),
		TopMissingItems: topItems(missing, topItemCount),
		TopExtraItems:   topItems(extra, topItemCount),
		Trend:           halvesTrend(accuracies, 2, summaryDeadband),
	}
}

// Summarize aggregates the most recent learning updates in the trailing window.
// Only items named by at least two updates are surfaced.
func (e *Engine) Summarize(ctx context.Context) (model.LearningSummary, error) {
	since := e.now().AddDate(0, 0, -e.config.WindowDays)
	updates, err := e.store.LearningUpdatesSince(ctx, since, e.config.MaxUpdates)
	if err != nil {
		return model.NoLearning(), fmt.Errorf("failed to load learning updates: %w", err)
	}
	return Summarize(updates), nil
}

// Summarize builds the prompt summary from updates ordered newest first.
func Summarize(updates []model.LearningUpdate) model.LearningSummary {
	if len(updates) == 0 {
		return model.NoLearning()
	}

	missing, missingSeen := make(map[string]int), make(map[string]int)
	extra, extraSeen := make(map[string]int), make(map[string]int)
	accuracies := make([]float64, len(updates))

	for i, u := range updates {
		collect(u.TopMissingItems, missing, missingSeen)
		collect(u.TopExtraItems, extra, extraSeen)
		accuracies[len(updates)-1-i] = u.AverageAccuracy
	}

	return model.LearningSummary{
		HasLearning:     true,
		TopMissingItems: names(topItems(recurring(missing, missingSeen), topItemCount)),
		TopExtraItems:   names(topItems(recurring(extra, extraSeen), topItemCount)),
		AverageAccuracy: round2(mean(accuracies)),
		Trend:           halvesTrend(accuracies, summaryTrendMin, summaryDeadband),
		UpdateCount:     len(updates),
	}
}

func collect(items []model.ItemFrequency, freq, seen map[string]int) {
	counted := make(map[string]bool, len(items))
	for _, it := range items {
		if it.Item == "" {
			continue
		}
		f := it.Frequency
		if f <= 0 {
			f = 1
		}
		freq[it.Item] += f
		if !counted[it.Item] {
			seen[it.Item]++
			counted[it.Item] = true
		}
	}
}

// recurring drops items seen in fewer than two updates.
func recurring(freq, seen map[string]int) map[string]int {
	out := make(map[string]int, len(freq))
	for item, f := range freq {
		if seen[item] >= minUpdatesForItem {
			out[item] = f
		}
	}
	return out
}

// topItems ranks by frequency, breaking ties by name so output is deterministic.
func topItems(freq map[string]int, n int) []model.ItemFrequency {
	ranked := make([]model.ItemFrequency, 0, len(freq))
	for item, f := range freq {
		ranked = append(ranked, model.ItemFrequency{Item: item, Frequency: f})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Frequency != ranked[j].Frequency {
			return ranked[i].Frequency > ranked[j].Frequency
		}
		return ranked[i].Item < ranked[j].Item
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func names(items []model.ItemFrequency) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Item
	}
	return out
}

// halvesTrend compares the mean of the older half with the newer half. values must
// be ordered oldest first; fewer than minValues is stable.
func halvesTrend(values []float64, minValues int, deadband float64) model.AccuracyTrend {
	if len(values) < minValues || len(values) < 2 {
		return model.TrendStable
	}
	mid := len(values) / 2
	return compare(mean(values[:mid]), mean(values[mid:]), deadband)
}

func compare(older, newer, deadband float64) model.AccuracyTrend {
	switch {
	case newer > older+deadband:
		return model.TrendImproving
	case newer < older-deadband:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
