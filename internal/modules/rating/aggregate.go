// Package rating computes composite ratings: the weighted average of
// per-measure star levels and the binning of simulated composites into level
// probabilities.
package rating

import "github.com/aristath/stargazer/internal/domain"

// Aggregate returns the weighted mean of the defined ratings. A measure
// contributes only when it has both a defined rating and a weight; everything
// else is excluded from numerator and denominator alike. When no measure
// qualifies the result is undefined - callers must be able to tell "no rated
// measures" apart from a legitimately low average.
//
// The result is the raw weighted mean, deliberately not clamped to [1,5]:
// downstream binning depends on its exact value.
func Aggregate(ratings map[string]domain.Stars, weights map[string]float64) domain.Score {
	var totalScore, totalWeight float64
	for measure, weight := range weights {
		stars, ok := ratings[measure]
		if !ok || !stars.Valid {
			continue
		}
		totalScore += float64(stars.Level) * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return domain.MissingScore()
	}
	return domain.ScoreOf(totalScore / totalWeight)
}

// RatedWeight returns the summed weight of measures carrying a defined
// rating. This is the denominator the improvement-path approximation divides
// single-measure weights by.
func RatedWeight(ratings map[string]domain.Stars, weights map[string]float64) float64 {
	var total float64
	for measure, weight := range weights {
		if stars, ok := ratings[measure]; ok && stars.Valid {
			total += weight
		}
	}
	return total
}
