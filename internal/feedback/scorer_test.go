package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name      string
		predicted []string
		actual    []string
		want      Score
	}{
		{
			name:      "partial match keeps original casing",
			predicted: []string{"Milk", "Bread", "Eggs"},
			actual:    []string{"milk", "Cheese"},
			want: Score{
				Matched:         []string{"Milk"},
				Missing:         []string{"Bread", "Eggs"},
				Extra:           []string{"Cheese"},
				MatchPercentage: 33.33,
			},
		},
		{
			name:      "whitespace is ignored",
			predicted: []string{"  Greek Yoghurt "},
			actual:    []string{"greek yoghurt"},
			want: Score{
				Matched:         []string{"  Greek Yoghurt "},
				Missing:         []string{},
				Extra:           []string{},
				MatchPercentage: 100,
			},
		},
		{
			name:      "nothing predicted",
			predicted: nil,
			actual:    []string{"Apples"},
			want: Score{
				Matched: []string{},
				Missing: []string{},
				Extra:   []string{"Apples"},
			},
		},
		{
			name:      "nothing bought",
			predicted: []string{"Apples", "Pears"},
			actual:    nil,
			want: Score{
				Matched: []string{},
				Missing: []string{"Apples", "Pears"},
				Extra:   []string{},
			},
		},
		{
			name:      "two thirds rounds to two decimals",
			predicted: []string{"A", "B", "C"},
			actual:    []string{"c", "a", "D", "E"},
			want: Score{
				Matched:         []string{"A", "C"},
				Missing:         []string{"B"},
				Extra:           []string{"D", "E"},
				MatchPercentage: 66.67,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.predicted, tt.actual)
			assert.Equal(t, tt.want.Matched, got.Matched)
			assert.Equal(t, tt.want.Missing, got.Missing)
			assert.Equal(t, tt.want.Extra, got.Extra)
			assert.InDelta(t, tt.want.MatchPercentage, got.MatchPercentage, 0.001)
		})
	}
}

func TestCompare_PercentageProperty(t *testing.T) {
	predicted := []string{"Milk", "Bread", "Eggs", "Butter", "Jam", "Tea", "Rice"}
	actual := []string{"MILK", "eggs ", "Tea", "Coffee"}

	got := Compare(predicted, actual)
	assert.Len(t, got.Matched, 3)
	assert.Equal(t, len(predicted), len(got.Matched)+len(got.Missing))
	assert.InDelta(t, 100*3/7.0, got.MatchPercentage, 0.005)
}
