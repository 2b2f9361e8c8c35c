// Package distribution fits and samples per-measure conditional distribution
// models: a beta regression from trend features to a bounded percentage
// outcome.
//
// Features are derived per contract from the year-ordered series of a single
// measure. Modeling the outcome as a beta draw (rather than a symmetric
// unbounded error around a point forecast) keeps all probability mass inside
// the 0-100 domain and lets dispersion widen for contracts with volatile
// recent history.
package distribution

import (
	"github.com/aristath/stargazer/internal/domain"
	"github.com/aristath/stargazer/internal/modules/panel"
)

// Feature vector layout: each trend feature is paired with a missingness
// indicator, and missing features are zero-filled. The indicator keeps
// zero-filling from being read as a real observation.
const (
	featLag1 = iota // last year's value
	featDiff1
	featDiff2
	featLag1Missing
	featDiff1Missing
	featDiff2Missing
	NumFeatures
)

// FeatureNames is the ordered list of feature keys a fitted model expects.
var FeatureNames = []string{
	"lag1", "diff1", "diff2",
	"lag1_missing", "diff1_missing", "diff2_missing",
}

// FeaturesAt derives the feature vector for one measure at index idx of a
// contract's year-ordered rows:
//
//	lag1  = value in the previous year
//	diff1 = one-period change ending in the previous year
//	diff2 = two-period change ending in the previous year
//
// Only prior years feed the vector, so it is valid for forecasting the row at
// idx itself.
func FeaturesAt(series []panel.Row, idx int, measure string) []float64 {
	at := func(i int) domain.Score {
		if i < 0 || i >= len(series) {
			return domain.MissingScore()
		}
		return series[i].Score(measure)
	}

	v1 := at(idx - 1)
	v2 := at(idx - 2)
	v3 := at(idx - 3)

	x := make([]float64, NumFeatures)

	if v1.Valid {
		x[featLag1] = v1.Value
	} else {
		x[featLag1Missing] = 1
	}
	if v1.Valid && v2.Valid {
		x[featDiff1] = v1.Value - v2.Value
	} else {
		x[featDiff1Missing] = 1
	}
	if v1.Valid && v3.Valid {
		x[featDiff2] = v1.Value - v3.Value
	} else {
		x[featDiff2Missing] = 1
	}

	return x
}

// TrainingRow is one fitting observation: the (0,1)-transformed target and
// its feature vector.
type TrainingRow struct {
	Y float64
	X []float64
}

// TrainingRows collects fitting observations for one measure across the whole
// panel. Rows must already be sorted by contract then year. Targets outside
// [0,100] (non-percentage metrics sneaking through) are skipped; the epsilon
// squeeze keeps exact 0 and 100 off the beta boundary.
func TrainingRows(rows []panel.Row, measure string, policy domain.RatingPolicy) []TrainingRow {
	var out []TrainingRow
	start := 0
	for i := 0; i <= len(rows); i++ {
		if i < len(rows) && rows[i].ContractID == rows[start].ContractID {
			continue
		}
		series := rows[start:i]
		for j := range series {
			target := series[j].Score(measure)
			if !target.Valid || target.Value < 0 || target.Value > 100 {
				continue
			}
			out = append(out, TrainingRow{
				Y: SqueezeTarget(target.Value, policy.Epsilon),
				X: FeaturesAt(series, j, measure),
			})
		}
		start = i
	}
	return out
}

// SqueezeTarget maps a percentage to (0,1), shifting exact boundary values
// inward by epsilon.
func SqueezeTarget(pct, epsilon float64) float64 {
	y := pct / 100
	if y < epsilon {
		return epsilon
	}
	if y > 1-epsilon {
		return 1 - epsilon
	}
	return y
}

// ContractSeries extracts one contract's rows (already year-ordered) from a
// sorted panel, alongside the index of the requested year within it. found is
// false when the contract has no row for that year.
func ContractSeries(rows []panel.Row, contractID string, year int) (series []panel.Row, idx int, found bool) {
	for _, row := range rows {
		if row.ContractID == contractID {
			if row.Year == year {
				idx = len(series)
				found = true
			}
			series = append(series, row)
		}
	}
	return series, idx, found
}
