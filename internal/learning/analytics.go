package learning

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// DefaultAnalyticsDays is the look-back used by the analytics report.
const DefaultAnalyticsDays = 90

const (
	analyticsTopItems = 10
	thirdsTrendMin    = 6
	thirdsDeadband    = 3.0
)

// PeriodAccuracy is the mean accuracy of the updates created in one week.
type PeriodAccuracy struct {
	Period          string  `json:"period" yaml:"period"`
	AverageAccuracy float64 `json:"average_accuracy" yaml:"average_accuracy"`
	UpdateCount     int     `json:"update_count" yaml:"update_count"`
}

// Analytics is a monitoring view over all learning updates in a period.
type Analytics struct {
	UpdatesByPeriod  map[string]int        `json:"learning_updates_by_period" yaml:"learning_updates_by_period"`
	Trend            model.AccuracyTrend   `json:"accuracy_trend" yaml:"accuracy_trend"`
	AccuracyOverTime []PeriodAccuracy      `json:"accuracy_over_time" yaml:"accuracy_over_time"`
	MostMissing      []model.ItemFrequency `json:"most_common_missing_items" yaml:"most_common_missing_items"`
	MostExtra        []model.ItemFrequency `json:"most_common_extra_items" yaml:"most_common_extra_items"`
	TotalUpdates     int                   `json:"total_learning_updates" yaml:"total_learning_updates"`
	PeriodDays       int                   `json:"analysis_period_days" yaml:"analysis_period_days"`
	AverageAccuracy  float64               `json:"average_accuracy" yaml:"average_accuracy"`
}

// Analytics reports on every learning update created in the last daysBack days.
func (e *Engine) Analytics(ctx context.Context, daysBack int) (*Analytics, error) {
	if daysBack <= 0 {
		daysBack = DefaultAnalyticsDays
	}
	since := e.now().AddDate(0, 0, -daysBack)
	updates, err := e.store.LearningUpdatesSince(ctx, since, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load learning updates: %w", err)
	}
	report := BuildAnalytics(updates)
	report.PeriodDays = daysBack
	return report, nil
}

// BuildAnalytics computes the report from updates ordered newest first. Unlike
// Summarize, no recurrence filter is applied to items.
func BuildAnalytics(updates []model.LearningUpdate) *Analytics {
	report := &Analytics{
		UpdatesByPeriod:  map[string]int{},
		AccuracyOverTime: []PeriodAccuracy{},
		MostMissing:      []model.ItemFrequency{},
		MostExtra:        []model.ItemFrequency{},
		Trend:            model.TrendInsufficientData,
		TotalUpdates:     len(updates),
	}
	if len(updates) == 0 {
		return report
	}

	byWeek := make(map[string][]float64)
	missing := make(map[string]int)
	extra := make(map[string]int)
	accuracies := make([]float64, len(updates))

	for i, u := range updates {
		week := WeekKey(u.CreatedAt)
		report.UpdatesByPeriod[week]++
		byWeek[week] = append(byWeek[week], u.AverageAccuracy)
		accuracies[len(updates)-1-i] = u.AverageAccuracy

		collect(u.TopMissingItems, missing, map[string]int{})
		collect(u.TopExtraItems, extra, map[string]int{})
	}

	weeks := make([]string, 0, len(byWeek))
	for w := range byWeek {
		weeks = append(weeks, w)
	}
	sort.Strings(weeks)
	for _, w := range weeks {
		report.AccuracyOverTime = append(report.AccuracyOverTime, PeriodAccuracy{
			Period:          w,
			AverageAccuracy: round2(mean(byWeek[w])),
			UpdateCount:     report.UpdatesByPeriod[w],
		})
	}

	report.MostMissing = topItems(missing, analyticsTopItems)
	report.MostExtra = topItems(extra, analyticsTopItems)
	report.AverageAccuracy = round2(mean(accuracies))
	report.Trend = thirdsTrend(accuracies)
	return report
}

// thirdsTrend compares the oldest third with the newest third.
func thirdsTrend(values []float64) model.AccuracyTrend {
	if len(values) < thirdsTrendMin {
		return model.TrendStable
	}
	third := len(values) / 3
	return compare(mean(values[:third]), mean(values[len(values)-third:]), thirdsDeadband)
}

// WeekKey labels t with its year and Monday-based week number, where days before
// the first Monday of the year fall in week 00.
func WeekKey(t time.Time) string {
	t = t.UTC()
	yday := t.YearDay() - 1
	weekday := (int(t.Weekday()) + 6) % 7
	return fmt.Sprintf("%d-W%02d", t.Year(), (yday+7-weekday)/7)
}
