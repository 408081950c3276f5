package pattern

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// Aggregate groups items by normalized name and computes frequency, recency and the
// mean interval between distinct purchase days. Items with a blank name are skipped.
func Aggregate(items []model.ReceiptItem) Patterns {
	days := make(map[string]map[time.Time]struct{})
	for _, item := range items {
		name := strings.TrimSpace(item.NormalizedName)
		if name == "" || item.PurchaseDate.IsZero() {
			continue
		}
		if days[name] == nil {
			days[name] = make(map[time.Time]struct{})
		}
		days[name][truncateDay(item.PurchaseDate)] = struct{}{}
	}

	patterns := make(Patterns, len(days))
	for name, set := range days {
		dates := make([]time.Time, 0, len(set))
		for d := range set {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })

		p := ItemPattern{
			Name:          name,
			Frequency:     len(dates),
			LastPurchase:  dates[0],
			PurchaseDates: dates,
		}
		if len(dates) > 1 {
			total := 0
			for i := 0; i < len(dates)-1; i++ {
				total += daysBetween(dates[i+1], dates[i])
			}
			p.AvgDaysBetween = math.Round(float64(total)/float64(len(dates)-1)*10) / 10
			p.HasAverage = true
		}
		patterns[name] = p
	}
	return patterns
}

// Ranked returns patterns ordered by frequency, then most recent purchase, then name.
func (p Patterns) Ranked() []ItemPattern {
	ranked := make([]ItemPattern, 0, len(p))
	for _, item := range p {
		ranked = append(ranked, item)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if !a.LastPurchase.Equal(b.LastPurchase) {
			return a.LastPurchase.After(b.LastPurchase)
		}
		return a.Name < b.Name
	})
	return ranked
}

// DaysSince counts whole calendar days from the last purchase to today.
func (p ItemPattern) DaysSince(today time.Time) int {
	return daysBetween(p.LastPurchase, truncateDay(today))
}

// NeedsSoon reports whether at least 80% of the usual interval has elapsed.
func (p ItemPattern) NeedsSoon(today time.Time) bool {
	if !p.HasAverage || p.AvgDaysBetween <= 0 {
		return false
	}
	return float64(p.DaysSince(today)) >= p.AvgDaysBetween*0.8
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(math.Round(truncateDay(to).Sub(truncateDay(from)).Hours() / 24))
}
