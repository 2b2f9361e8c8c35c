// Package valuation maps rating-probability distributions to expected dollar
// values and ranks improvement scenarios by return on investment.
package valuation

import (
	"encoding/json"
	"math"

	"github.com/aristath/stargazer/internal/modules/simulation"
)

// Ratio is a float64 whose non-finite values JSON-encode as null instead of
// failing the whole payload. ROI is legitimately +Inf for cost-free scenarios.
type Ratio float64

// MarshalJSON implements json.Marshaler.
func (r Ratio) MarshalJSON() ([]byte, error) {
	v := float64(r)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// ValueTable maps rating levels to annual dollar value (e.g. bonus payments
// per level). Levels absent from the table are worth 0.
type ValueTable map[int]float64

// ExpectedValue returns the probability-weighted dollar value of a rating
// distribution.
func ExpectedValue(probs map[int]float64, values ValueTable) float64 {
	var total float64
	for level, prob := range probs {
		total += prob * values[level]
	}
	return total
}

// Comparison quantifies the economic difference between a baseline and an
// improved simulation of the same contract.
type Comparison struct {
	BaselineValue    float64 `json:"baseline_value"`
	ImprovedValue    float64 `json:"improved_value"`
	NetChange        float64 `json:"net_change"`
	BaselineExpected float64 `json:"baseline_expected_rating"`
	ImprovedExpected float64 `json:"improved_expected_rating"`
	RatingChange     float64 `json:"rating_change"`
	// ProbabilityChanges reports the per-level probability delta (improved
	// minus baseline) for transparency alongside the headline numbers.
	ProbabilityChanges map[int]float64 `json:"probability_changes"`
}

// Compare valuates a baseline and an improved simulation result against a
// value table.
func Compare(baseline, improved *simulation.Result, values ValueTable) Comparison {
	changes := make(map[int]float64, len(baseline.Probabilities))
	for level, prob := range baseline.Probabilities {
		changes[level] = improved.Probabilities[level] - prob
	}

	baseValue := ExpectedValue(baseline.Probabilities, values)
	improvedValue := ExpectedValue(improved.Probabilities, values)

	return Comparison{
		BaselineValue:      baseValue,
		ImprovedValue:      improvedValue,
		NetChange:          improvedValue - baseValue,
		BaselineExpected:   baseline.ExpectedRating,
		ImprovedExpected:   improved.ExpectedRating,
		RatingChange:       improved.ExpectedRating - baseline.ExpectedRating,
		ProbabilityChanges: changes,
	}
}

// ROI returns netChange / cost. A zero cost returns +Inf (or -Inf for a
// negative net change): cost-free scenarios are legitimate sanity baselines,
// not division errors.
func ROI(netChange, cost float64) float64 {
	if cost == 0 {
		if netChange < 0 {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}
	return netChange / cost
}
