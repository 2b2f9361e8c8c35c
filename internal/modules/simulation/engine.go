package simulation

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"github.com/aristath/stargazer/internal/domain"
	"github.com/aristath/stargazer/internal/modules/distribution"
	"github.com/aristath/stargazer/internal/modules/panel"
	"github.com/aristath/stargazer/internal/modules/rating"
	"github.com/aristath/stargazer/internal/modules/thresholds"
	"github.com/aristath/stargazer/pkg/formulas"
)

// Engine runs Monte Carlo simulations of the composite rating. All inputs
// (threshold table, weights, fitted models, policy) are immutable after
// construction, so one engine serves concurrent simulation calls.
type Engine struct {
	thresholds *thresholds.Table
	weights    map[string]float64
	models     map[string]*distribution.Model
	policy     domain.RatingPolicy
	workers    int
	log        zerolog.Logger
}

// NewEngine creates a simulation engine. workers <= 0 defaults to NumCPU.
func NewEngine(
	table *thresholds.Table,
	weights map[string]float64,
	models map[string]*distribution.Model,
	policy domain.RatingPolicy,
	workers int,
	log zerolog.Logger,
) *Engine {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Engine{
		thresholds: table,
		weights:    weights,
		models:     models,
		policy:     policy,
		workers:    workers,
		log:        log.With().Str("module", "simulation").Logger(),
	}
}

// Request describes one simulation run. Adjustments are deterministic
// additive shifts applied to sampled values (improvement scenarios); sampled
// percentages are clipped to [0,100] after the shift.
type Request struct {
	ContractID  string             `json:"contract_id"`
	Year        int                `json:"year"`
	Draws       int                `json:"draws"`
	Seed        int64              `json:"seed"`
	Adjustments map[string]float64 `json:"adjustments,omitempty"`
}

// drawOutcome is one completed draw: the composite rating plus the
// per-measure values and how each was obtained.
type drawOutcome struct {
	rating   domain.Score
	values   map[string]float64
	outcomes map[string]OutcomeKind
}

// Simulate runs req.Draws independent draws against the historical panel.
//
// The requested contract/year row is resolved once up front
// (ErrNoDataForContractYear if absent), and per-measure feature vectors are
// precomputed so the draw loop is pure computation. Draws are dispatched to a
// worker pool; each draw derives its own rand source from the request seed
// and its index, so results are reproducible under a fixed seed regardless of
// scheduling. Cancelling ctx stops dispatch; the result is reduced from
// whatever draws completed.
func (e *Engine) Simulate(ctx context.Context, rows []panel.Row, req Request) (*Result, error) {
	if req.Draws <= 0 {
		return nil, fmt.Errorf("draws must be positive, got %d", req.Draws)
	}

	panel.SortRows(rows)
	series, rowIdx, found := distribution.ContractSeries(rows, req.ContractID, req.Year)
	if !found {
		return nil, fmt.Errorf("%w: %s/%d", domain.ErrNoDataForContractYear, req.ContractID, req.Year)
	}
	row := series[rowIdx]

	// Feature vectors are a function of the row only; compute once.
	measures := e.simulatedMeasures(row)
	features := make(map[string][]float64, len(measures))
	for _, measure := range measures {
		if _, ok := e.models[measure]; ok {
			features[measure] = distribution.FeaturesAt(series, rowIdx, measure)
		}
	}

	outcomes := e.runDraws(ctx, req, row, measures, features)

	return e.reduce(req, measures, outcomes), nil
}

// simulatedMeasures returns the sorted union of the row's measures and the
// modeled measures. Sorted iteration keeps each draw's rand consumption
// deterministic.
func (e *Engine) simulatedMeasures(row panel.Row) []string {
	seen := make(map[string]struct{}, len(row.Scores)+len(e.models))
	for measure := range row.Scores {
		seen[measure] = struct{}{}
	}
	for measure := range e.models {
		seen[measure] = struct{}{}
	}
	measures := make([]string, 0, len(seen))
	for measure := range seen {
		measures = append(measures, measure)
	}
	sort.Strings(measures)
	return measures
}

// runDraws executes the draw loop on a worker pool and returns the completed
// outcomes indexed by draw.
func (e *Engine) runDraws(
	ctx context.Context,
	req Request,
	row panel.Row,
	measures []string,
	features map[string][]float64,
) []*drawOutcome {
	results := make([]*drawOutcome, req.Draws)
	work := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				outcome := e.oneDraw(req, row, measures, features, i)
				results[i] = outcome
			}
		}()
	}

	for i := 0; i < req.Draws; i++ {
		select {
		case work <- i:
		case <-ctx.Done():
			e.log.Warn().
				Str("contract", req.ContractID).
				Int("dispatched", i).
				Msg("Simulation cancelled, reducing partial draw set")
			close(work)
			wg.Wait()
			return results
		}
	}
	close(work)
	wg.Wait()
	return results
}

// oneDraw produces a single simulated composite rating. A sampling failure
// for one measure falls back to that measure's actual value and never aborts
// the draw, let alone the run.
func (e *Engine) oneDraw(
	req Request,
	row panel.Row,
	measures []string,
	features map[string][]float64,
	drawIdx int,
) *drawOutcome {
	src := rand.NewSource(uint64(req.Seed) + uint64(drawIdx))

	outcome := &drawOutcome{
		values:   make(map[string]float64, len(measures)),
		outcomes: make(map[string]OutcomeKind, len(measures)),
	}
	ratings := make(map[string]domain.Stars, len(measures))

	for _, measure := range measures {
		value, kind := e.measureValue(req, row, features, measure, src, drawIdx)
		outcome.outcomes[measure] = kind
		if kind == OutcomeUnavailable {
			continue
		}
		outcome.values[measure] = value

		clsf, err := e.thresholds.Classify(measure, domain.ScoreOf(value))
		if err != nil {
			// Unknown measure or out-of-range value: excluded from this
			// draw's aggregate, everything else proceeds.
			continue
		}
		ratings[measure] = clsf.Stars
	}

	outcome.rating = rating.Aggregate(ratings, e.weights)
	return outcome
}

// measureValue resolves one measure's value for a draw: a model sample with
// adjustment and clipping when modeled, the observed actual otherwise.
func (e *Engine) measureValue(
	req Request,
	row panel.Row,
	features map[string][]float64,
	measure string,
	src rand.Source,
	drawIdx int,
) (float64, OutcomeKind) {
	actual := row.Score(measure)

	model, ok := e.models[measure]
	if !ok {
		if actual.Valid {
			return actual.Value, OutcomeFallback
		}
		return 0, OutcomeUnavailable
	}

	fraction, err := model.Sample(features[measure], src)
	if err != nil {
		if drawIdx == 0 {
			e.log.Warn().
				Err(err).
				Str("measure", measure).
				Msg("Sampling failed, falling back to actual value")
		}
		if actual.Valid {
			return actual.Value, OutcomeFallback
		}
		return 0, OutcomeUnavailable
	}

	value := fraction * 100
	if adj, ok := req.Adjustments[measure]; ok {
		value += adj
		if value > 100 {
			value = 100
		} else if value < 0 {
			value = 0
		}
	}
	return value, OutcomeSampled
}

// reduce folds completed draws into the empirical result.
func (e *Engine) reduce(req Request, measures []string, outcomes []*drawOutcome) *Result {
	result := &Result{
		ContractID:     req.ContractID,
		Year:           req.Year,
		Seed:           req.Seed,
		RequestedDraws: req.Draws,
		MeasureDraws:   make(map[string][]float64),
		Outcomes:       make(map[string]OutcomeCounts, len(measures)),
	}

	modeled := make([]string, 0, len(e.models))
	for _, measure := range measures {
		if _, ok := e.models[measure]; ok {
			modeled = append(modeled, measure)
		}
	}

	for _, outcome := range outcomes {
		if outcome == nil {
			continue // not dispatched before cancellation
		}
		result.CompletedDraws++
		if outcome.rating.Valid {
			result.Ratings = append(result.Ratings, outcome.rating.Value)
		}
		for _, measure := range modeled {
			result.MeasureDraws[measure] = append(result.MeasureDraws[measure], outcome.values[measure])
		}
		for measure, kind := range outcome.outcomes {
			counts := result.Outcomes[measure]
			switch kind {
			case OutcomeSampled:
				counts.Sampled++
			case OutcomeFallback:
				counts.Fallback++
			case OutcomeUnavailable:
				counts.Unavailable++
			}
			result.Outcomes[measure] = counts
		}
	}

	result.Probabilities = rating.Probabilities(result.Ratings, e.policy)
	if len(result.Ratings) > 0 {
		result.ExpectedRating = formulas.Mean(result.Ratings)
		result.StdDev = formulas.PopStdDev(result.Ratings)
	}
	return result
}
