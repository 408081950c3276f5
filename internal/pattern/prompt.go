package pattern

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// MaxPromptItems caps how many items are listed in the prompt.
const MaxPromptItems = 30

// BuildPrompt renders the prediction prompt for today. The output is deterministic for
// identical inputs. A summary without learning adds no insights block.
func BuildPrompt(patterns Patterns, today time.Time, summary model.LearningSummary) string {
	date := today.Format("2006-01-02")

	var b strings.Builder
	b.WriteString("You are a grocery shopping prediction assistant. Based on the user's purchase history, " +
		"predict what items they should buy in the next 3-7 days.\n\n")
	fmt.Fprintf(&b, "Today's date: %s\n\n", date)
	b.WriteString("Purchase History (last receipts):\n")

	ranked := patterns.Ranked()
	if len(ranked) > MaxPromptItems {
		ranked = ranked[:MaxPromptItems]
	}
	for _, item := range ranked {
		writeItem(&b, item, today)
	}

	writeInsights(&b, summary)

	fmt.Fprintf(&b, `
Instructions:
1. Analyze the purchase patterns above
2. Consider the learning insights (if provided) to improve prediction accuracy
3. Predict which items the user should buy in the next 3-7 days (from %s)
4. Consider:
   - Items purchased frequently but not recently
   - Items approaching their average purchase interval
   - Items that haven't been bought in a while
   - Learning insights about commonly missed or extra items
5. Return ONLY valid JSON with this structure:
{
  "predicted_date_range_start": "YYYY-MM-DD",
  "predicted_date_range_end": "YYYY-MM-DD",
  "predicted_items": ["Item 1", "Item 2", "Item 3"],
  "reasoning": "Brief explanation of why these items were predicted"
}

Return ONLY the JSON, no other text or markdown.
`, date)

	return b.String()
}

func writeItem(b *strings.Builder, item ItemPattern, today time.Time) {
	plural := ""
	if item.Frequency > 1 {
		plural = "s"
	}

	fmt.Fprintf(b, "\n- %s:", item.Name)
	fmt.Fprintf(b, "\n  • Purchased %d time%s in last receipts", item.Frequency, plural)
	fmt.Fprintf(b, "\n  • Last purchased: %s (%d days ago)", item.LastPurchase.Format("2006-01-02"), item.DaysSince(today))
	if item.HasAverage && item.AvgDaysBetween > 0 {
		fmt.Fprintf(b, "\n  • Average time between purchases: %.1f days", item.AvgDaysBetween)
		if item.NeedsSoon(today) {
			fmt.Fprintf(b, "\n  → Likely needs soon (past %.0f days)", item.AvgDaysBetween*0.8)
		}
	}
	b.WriteString("\n")
}

func writeInsights(b *strings.Builder, summary model.LearningSummary) {
	if !summary.HasLearning {
		return
	}

	b.WriteString("\n\nLearning Insights (from recent feedback analysis):\n")
	if len(summary.TopMissingItems) > 0 {
		fmt.Fprintf(b, "- Items often predicted but not bought: %s\n", strings.Join(firstN(summary.TopMissingItems, 5), ", "))
		b.WriteString("  → Consider reducing predictions for these items unless purchase pattern strongly suggests otherwise\n")
	}
	if len(summary.TopExtraItems) > 0 {
		fmt.Fprintf(b, "- Items often bought but not predicted: %s\n", strings.Join(firstN(summary.TopExtraItems, 5), ", "))
		b.WriteString("  → Consider including these items more often in predictions\n")
	}
	if summary.AverageAccuracy > 0 {
		fmt.Fprintf(b, "- Average prediction accuracy: %s%% %s (%s)\n",
			FormatPercent(summary.AverageAccuracy), trendEmoji(summary.Trend), summary.Trend)
	}
}

// FormatPercent renders a percentage with at least one decimal place, e.g. 50.0 or 33.33.
func FormatPercent(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func trendEmoji(trend model.AccuracyTrend) string {
	switch trend {
	case model.TrendImproving:
		return "📈"
	case model.TrendDeclining:
		return "📉"
	default:
		return "➡️"
	}
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// Builder assembles prompts from receipt items, pulling learning insights from a source.
type Builder struct {
	learning LearningSource
	logger   *slog.Logger
}

// NewBuilder creates a Builder. A nil source disables learning insights.
func NewBuilder(learning LearningSource, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{learning: learning, logger: logger}
}

// Build aggregates items and renders the prompt. Failing to load insights only drops
// the insights block.
func (b *Builder) Build(ctx context.Context, items []model.ReceiptItem, today time.Time) (string, Patterns) {
	patterns := Aggregate(items)

	summary := model.NoLearning()
	if b.learning != nil {
		s, err := b.learning.Summarize(ctx)
		if err != nil {
			b.logger.Warn("could not include learning insights", "error", err)
		} else {
			summary = s
		}
	}

	b.logger.Debug("built prediction prompt", "items", len(patterns), "has_learning", summary.HasLearning)
	return BuildPrompt(patterns, today, summary), patterns
}
