package domain

// RatingPolicy collects the program-wide rating constants. They are carried as
// an explicit value (not package literals) so simulations and model fitting can
// be exercised with alternate policies in tests.
type RatingPolicy struct {
	// Levels are the reportable rating levels, ascending (1 through 5).
	Levels []int

	// BinCutoffs are the boundaries used to bin simulated composite ratings
	// into level probabilities. Level 1 is everything below the first cutoff;
	// interior levels are half-open intervals between successive cutoffs; the
	// top level takes everything at or above the boundary preceding it.
	BinCutoffs []float64

	// DisplayCutoffs are the published half-star boundaries used to pick the
	// next improvement target above a current weighted average.
	DisplayCutoffs []float64

	// MaxStars is the ceiling rating level for a single measure.
	MaxStars int

	// MinObservations is the minimum number of non-missing historical values a
	// measure needs before a distribution model is fitted for it.
	MinObservations int

	// Epsilon shifts percentage targets off the exact 0 and 1 boundaries
	// before fitting, since the beta likelihood is undefined there.
	Epsilon float64
}

// DefaultPolicy returns the standard rating policy.
func DefaultPolicy() RatingPolicy {
	return RatingPolicy{
		Levels:          []int{1, 2, 3, 4, 5},
		BinCutoffs:      []float64{1.75, 2.75, 3.25, 3.75, 4.25, 4.75},
		DisplayCutoffs:  []float64{2.75, 3.25, 3.75, 4.25, 4.75},
		MaxStars:        5,
		MinObservations: 10,
		Epsilon:         1e-4,
	}
}
