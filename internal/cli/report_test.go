package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/joshsymonds/the-pantry-must-flow/internal/learning"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

func sampleAnalytics() *learning.Analytics {
	return &learning.Analytics{
		TotalUpdates:    3,
		PeriodDays:      90,
		AverageAccuracy: 71.3,
		Trend:           model.TrendImproving,
		UpdatesByPeriod: map[string]int{"2024-W03": 3},
		AccuracyOverTime: []learning.PeriodAccuracy{
			{Period: "2024-W03", AverageAccuracy: 71.3, UpdateCount: 3},
		},
		MostMissing: []model.ItemFrequency{{Item: "milk", Frequency: 4}},
		MostExtra:   []model.ItemFrequency{{Item: "kale", Frequency: 2}},
	}
}

func TestRenderAnalytics(t *testing.T) {
	out := RenderAnalytics(sampleAnalytics())

	for _, want := range []string{"Learning analytics", "last 90 days", "71.3%", "improving", "2024-W03", "milk", "kale"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderSummary(t *testing.T) {
	t.Run("no learning", func(t *testing.T) {
		assert.Contains(t, RenderSummary(model.NoLearning()), "No learning updates yet.")
	})

	t.Run("with learning", func(t *testing.T) {
		out := RenderSummary(model.LearningSummary{
			HasLearning:     true,
			UpdateCount:     2,
			AverageAccuracy: 50,
			Trend:           model.TrendStable,
			TopMissingItems: []string{"eggs", "bread"},
		})
		assert.Contains(t, out, "50.0%")
		assert.Contains(t, out, "eggs, bread")
		assert.Contains(t, out, "none")
	})
}

func TestWrite(t *testing.T) {
	report := sampleAnalytics()

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, FormatYAML, report, nil))

		var decoded map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, 3, decoded["total_learning_updates"])
		assert.Equal(t, "improving", decoded["accuracy_trend"])
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, FormatJSON, report, nil))
		assert.Contains(t, buf.String(), `"analysis_period_days": 90`)
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, "", report, func() string { return "rendered" }))
		assert.Equal(t, "rendered\n", buf.String())
	})

	t.Run("unknown", func(t *testing.T) {
		assert.ErrorContains(t, Write(&bytes.Buffer{}, "csv", report, nil), "unknown output format")
	})
}
