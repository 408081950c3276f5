package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joshsymonds/the-pantry-must-flow/internal/learning"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

// Output formats accepted by Write.
const (
	FormatText = "text"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Write encodes v in the requested format. Text output uses render.
func Write(w io.Writer, format string, v any, render func() string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		_, err := fmt.Fprintln(w, render())
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q (want text, yaml or json)", format)
	}
}

// RenderSummary renders the learning summary that is appended to prediction prompts.
func RenderSummary(s model.LearningSummary) string {
	if !s.HasLearning {
		return RenderBox(ChartIcon+" Learning summary", SubtleStyle.Render("No learning updates yet."))
	}
	rows := []Row{
		{"Updates", strconv.Itoa(s.UpdateCount)},
		{"Average accuracy", percent(s.AverageAccuracy)},
		{"Trend", renderTrend(s.Trend)},
		{"Often missed", joinOrNone(s.TopMissingItems)},
		{"Often unneeded", joinOrNone(s.TopExtraItems)},
	}
	return RenderBox(ChartIcon+" Learning summary", renderRows(rows))
}

// RenderAnalytics renders the learning analytics report.
func RenderAnalytics(a *learning.Analytics) string {
	var b strings.Builder
	b.WriteString(renderRows([]Row{
		{"Period", fmt.Sprintf("last %d days", a.PeriodDays)},
		{"Learning updates", strconv.Itoa(a.TotalUpdates)},
		{"Average accuracy", percent(a.AverageAccuracy)},
		{"Trend", renderTrend(a.Trend)},
	}))

	if len(a.AccuracyOverTime) > 0 {
		b.WriteString("\n\n" + TitleStyle.Render("Accuracy by week") + "\n")
		weeks := make([]Row, 0, len(a.AccuracyOverTime))
		for _, p := range a.AccuracyOverTime {
			weeks = append(weeks, Row{p.Period, fmt.Sprintf("%s (%d updates)", percent(p.AverageAccuracy), p.UpdateCount)})
		}
		b.WriteString(renderRows(weeks))
	}

	writeFrequencies(&b, "Most often missed", a.MostMissing)
	writeFrequencies(&b, "Most often unneeded", a.MostExtra)

	return RenderBox(ChartIcon+" Learning analytics", b.String())
}

func writeFrequencies(b *strings.Builder, title string, items []model.ItemFrequency) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n\n" + TitleStyle.Render(title) + "\n")
	rows := make([]Row, 0, len(items))
	for _, f := range items {
		rows = append(rows, Row{f.Item, strconv.Itoa(f.Frequency)})
	}
	b.WriteString(renderRows(rows))
}

func renderTrend(t model.AccuracyTrend) string {
	switch t {
	case model.TrendImproving:
		return SuccessStyle.Render("📈 improving")
	case model.TrendDeclining:
		return ErrorStyle.Render("📉 declining")
	case model.TrendInsufficientData:
		return SubtleStyle.Render("insufficient data")
	default:
		return "➡️ stable"
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return SubtleStyle.Render("none")
	}
	return strings.Join(items, ", ")
}
