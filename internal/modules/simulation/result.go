// Package simulation propagates per-measure forecast uncertainty into a
// distribution over the composite star rating via Monte Carlo.
package simulation

// OutcomeKind records how one measure's value was obtained inside a draw.
type OutcomeKind int

const (
	// OutcomeSampled - drawn from the measure's fitted distribution model.
	OutcomeSampled OutcomeKind = iota
	// OutcomeFallback - the row's observed actual value was used, either
	// because the measure is unmodeled or because sampling failed.
	OutcomeFallback
	// OutcomeUnavailable - no model and no actual; the measure contributed
	// nothing to the draw.
	OutcomeUnavailable
)

// OutcomeCounts tallies draw outcomes for one measure across a simulation.
type OutcomeCounts struct {
	Sampled     int `json:"sampled"`
	Fallback    int `json:"fallback"`
	Unavailable int `json:"unavailable"`
}

// Result is the empirical outcome of one simulation run.
type Result struct {
	ContractID     string `json:"contract_id"`
	Year           int    `json:"year"`
	Seed           int64  `json:"seed"`
	RequestedDraws int    `json:"requested_draws"`
	// CompletedDraws can fall short of RequestedDraws when the run is
	// cancelled; the completed prefix of i.i.d. draws is still a valid
	// (smaller) sample.
	CompletedDraws int `json:"completed_draws"`

	// Ratings holds each completed draw's composite rating.
	Ratings []float64 `json:"ratings"`

	// Probabilities maps each rating level to its empirical mass. Sums to 1
	// over the levels whenever CompletedDraws > 0.
	Probabilities  map[int]float64 `json:"probabilities"`
	ExpectedRating float64         `json:"expected_rating"`
	StdDev         float64         `json:"std_dev"`

	// MeasureDraws holds, for each modeled measure, the per-draw values
	// (sampled or fallen back; 0 where unavailable), aligned with Ratings.
	MeasureDraws map[string][]float64 `json:"measure_draws"`

	// Outcomes tallies how each measure's value was obtained across draws.
	Outcomes map[string]OutcomeCounts `json:"outcomes"`
}
