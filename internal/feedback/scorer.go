// Package feedback scores predictions against the receipts that confirm them.
package feedback

import (
	"math"
	"strings"
)

// Score is the comparison of one prediction with one receipt.
type Score struct {
	Matched         []string
	Missing         []string
	Extra           []string
	MatchPercentage float64
}

// Compare scores predicted against actual. Names are compared case-insensitively
// after trimming; Matched and Missing keep the predicted order and spelling, Extra
// keeps the receipt's. MatchPercentage is matched/predicted as a percentage rounded
// to two decimals, or zero when nothing was predicted.
func Compare(predicted, actual []string) Score {
	actualSet := make(map[string]struct{}, len(actual))
	for _, item := range actual {
		actualSet[normalize(item)] = struct{}{}
	}
	predictedSet := make(map[string]struct{}, len(predicted))
	for _, item := range predicted {
		predictedSet[normalize(item)] = struct{}{}
	}

	score := Score{
		Matched: []string{},
		Missing: []string{},
		Extra:   []string{},
	}
	for _, item := range predicted {
		if _, ok := actualSet[normalize(item)]; ok {
			score.Matched = append(score.Matched, item)
		} else {
			score.Missing = append(score.Missing, item)
		}
	}
	for _, item := range actual {
		if _, ok := predictedSet[normalize(item)]; !ok {
			score.Extra = append(score.Extra, item)
		}
	}

	if len(predicted) > 0 {
		pct := float64(len(score.Matched)) / float64(len(predicted)) * 100
		score.MatchPercentage = math.Round(pct*100) / 100
	}
	return score
}

func normalize(item string) string {
	return strings.ToLower(strings.TrimSpace(item))
}
