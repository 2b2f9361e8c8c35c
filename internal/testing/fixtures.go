package testing

import (
	"math"

	"github.com/aristath/stargazer/internal/domain"
	"github.com/aristath/stargazer/internal/modules/panel"
	"github.com/aristath/stargazer/internal/modules/thresholds"
)

// FixtureBands returns a simple five-level band set covering [0, 101) for the
// given measures: below 55 is one star, then 55/70/85/95 cut the higher
// levels. The open top bound keeps a score of exactly 100 inside band five.
func FixtureBands(measures ...string) map[string][]thresholds.Band {
	bands := make(map[string][]thresholds.Band, len(measures))
	for _, measure := range measures {
		bands[measure] = []thresholds.Band{
			{Lower: 0, Upper: 55, Stars: 1},
			{Lower: 55, Upper: 70, Stars: 2},
			{Lower: 70, Upper: 85, Stars: 3},
			{Lower: 85, Upper: 95, Stars: 4},
			{Lower: 95, Upper: 101, Stars: 5},
		}
	}
	return bands
}

// FixturePanel builds a synthetic panel for one contract: years of gently
// trending scores for each measure, long enough to clear the minimum
// observation count for model fitting.
func FixturePanel(contractID string, measures []string, years int) []panel.Row {
	rows := make([]panel.Row, 0, years)
	for i := 0; i < years; i++ {
		scores := make(map[string]domain.Score, len(measures))
		for j, measure := range measures {
			// Distinct per-measure levels with a mild upward trend and a
			// bounded wobble, kept inside (0, 100).
			base := 50 + 10*float64(j)
			value := base + 0.5*float64(i) + 3*math.Sin(float64(i+j))
			scores[measure] = domain.ScoreOf(math.Min(99, math.Max(1, value)))
		}
		rows = append(rows, panel.Row{
			ContractID: contractID,
			Year:       2010 + i,
			Scores:     scores,
		})
	}
	return rows
}
