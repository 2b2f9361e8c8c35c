// Package improvement orders candidate one-level measure improvements by
// efficiency and finds the minimal set that reaches a target composite
// rating.
package improvement

import (
	"math"
	"sort"

	"github.com/aristath/stargazer/internal/domain"
	"github.com/aristath/stargazer/internal/modules/thresholds"
)

// Opportunity is one candidate improvement: lifting a single measure by one
// star level. Cumulative fields are filled in path order.
type Opportunity struct {
	Measure           string  `json:"measure"`
	CurrentStars      int     `json:"current_stars"`
	Weight            float64 `json:"weight"`
	DistanceToNext    float64 `json:"distance_to_next"`
	DistancePerWeight float64 `json:"distance_per_weight"`
	// SingleMeasureImpact approximates the composite-rating gain from this
	// one-level improvement as weight / total rated weight.
	SingleMeasureImpact float64 `json:"single_measure_impact"`
	CumulativeWeight    float64 `json:"cumulative_weight"`
	// ProjectedRating is the current rating plus the cumulative impact of
	// this and every earlier opportunity on the path.
	ProjectedRating float64 `json:"projected_rating"`
	// NeededForTarget marks the minimal prefix that reaches the target.
	NeededForTarget bool `json:"needed_for_target"`
}

// Path is the ordered improvement plan toward a target composite rating.
type Path struct {
	Opportunities []Opportunity `json:"opportunities"`
	CurrentRating float64       `json:"current_rating"`
	TargetRating  float64       `json:"target_rating"`
	// MeasuresNeeded is the length of the minimal prefix reaching the target;
	// 0 when the target is unreachable.
	MeasuresNeeded int `json:"measures_needed"`
	// TargetUnreachable is set when improving every eligible measure by one
	// level still falls short. The full ordered list is returned regardless.
	TargetUnreachable bool `json:"target_unreachable"`
}

// ComputePath ranks improvement opportunities and finds the minimal prefix
// reaching targetRating.
//
// Eligible measures have a defined rating below the ceiling, a defined
// distance, and a weight. Ordering is ascending |distance| / weight: the
// cheapest rating point per unit of weight first. Each opportunity's impact
// on the composite is approximated as weight / total rated weight - a
// first-order linearization that assumes one-level improvements are
// independent and additive. The ranking, not the absolute cumulative
// numbers, is what downstream decisions consume, so the approximation is
// kept rather than re-running the aggregate per prefix.
func ComputePath(
	classifications map[string]thresholds.Classification,
	weights map[string]float64,
	currentRating float64,
	targetRating float64,
	policy domain.RatingPolicy,
) Path {
	// Total weight spans every rated measure, including those already at the
	// ceiling: the denominator of the composite doesn't shrink because a
	// measure can't improve.
	var totalWeight float64
	for measure, clsf := range classifications {
		if weight, ok := weights[measure]; ok && clsf.Stars.Valid {
			totalWeight += weight
		}
	}

	path := Path{
		CurrentRating: currentRating,
		TargetRating:  targetRating,
	}
	if totalWeight == 0 {
		path.TargetUnreachable = true
		return path
	}

	for measure, clsf := range classifications {
		weight, ok := weights[measure]
		if !ok || weight == 0 {
			// Zero-weight measures are legal inputs but can't move the
			// composite; they are not opportunities.
			continue
		}
		if !clsf.Stars.Valid || clsf.Stars.Level >= policy.MaxStars || !clsf.Distance.Valid {
			continue
		}
		path.Opportunities = append(path.Opportunities, Opportunity{
			Measure:             measure,
			CurrentStars:        clsf.Stars.Level,
			Weight:              weight,
			DistanceToNext:      clsf.Distance.Value,
			DistancePerWeight:   math.Abs(clsf.Distance.Value) / weight,
			SingleMeasureImpact: weight / totalWeight,
		})
	}

	sort.Slice(path.Opportunities, func(i, j int) bool {
		a, b := path.Opportunities[i], path.Opportunities[j]
		if a.DistancePerWeight != b.DistancePerWeight {
			return a.DistancePerWeight < b.DistancePerWeight
		}
		return a.Measure < b.Measure // stable output for equal efficiency
	})

	cumulativeWeight := 0.0
	projected := currentRating
	reachedAt := -1
	for i := range path.Opportunities {
		cumulativeWeight += path.Opportunities[i].Weight
		projected += path.Opportunities[i].SingleMeasureImpact
		path.Opportunities[i].CumulativeWeight = cumulativeWeight
		path.Opportunities[i].ProjectedRating = projected
		if reachedAt < 0 && projected >= targetRating {
			reachedAt = i
		}
	}

	if currentRating >= targetRating {
		// Target already met: the ordered list is still useful advice, but
		// nothing on it is needed.
		return path
	}
	if reachedAt < 0 {
		path.TargetUnreachable = true
		return path
	}

	path.MeasuresNeeded = reachedAt + 1
	for i := 0; i <= reachedAt; i++ {
		path.Opportunities[i].NeededForTarget = true
	}
	return path
}
