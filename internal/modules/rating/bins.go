package rating

import "github.com/aristath/stargazer/internal/domain"

// Probabilities bins simulated composite ratings into per-level empirical
// probability mass using the policy's fixed cutoffs.
//
// Level layout: the first level takes everything below the first cutoff, the
// interior levels are half-open intervals between successive cutoffs, and the
// top level takes everything at or above the boundary preceding it. With K
// levels only the first K-1 cutoffs participate; the policy may carry more.
// The masses always sum to 1 over the levels for a non-empty draw set.
func Probabilities(draws []float64, policy domain.RatingPolicy) map[int]float64 {
	probs := make(map[int]float64, len(policy.Levels))
	if len(draws) == 0 {
		for _, level := range policy.Levels {
			probs[level] = 0
		}
		return probs
	}

	n := float64(len(draws))
	cutoffs := policy.BinCutoffs
	for i, level := range policy.Levels {
		var count int
		switch {
		case i == 0:
			for _, r := range draws {
				if r < cutoffs[0] {
					count++
				}
			}
		case i == len(policy.Levels)-1:
			for _, r := range draws {
				if r >= cutoffs[i-1] {
					count++
				}
			}
		default:
			for _, r := range draws {
				if r >= cutoffs[i-1] && r < cutoffs[i] {
					count++
				}
			}
		}
		probs[level] = float64(count) / n
	}
	return probs
}

// NextCutoff returns the first published display cutoff strictly above the
// current composite rating - the natural target when planning the next
// half-star jump. ok is false when the rating already sits above every cutoff.
func NextCutoff(current float64, policy domain.RatingPolicy) (cutoff float64, ok bool) {
	for _, c := range policy.DisplayCutoffs {
		if c > current {
			return c, true
		}
	}
	return 0, false
}
