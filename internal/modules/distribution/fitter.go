package distribution

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/stargazer/internal/domain"
	"github.com/aristath/stargazer/internal/modules/panel"
)

// MeasureFailure records one measure whose fit failed. Batch fitting always
// continues past individual failures.
type MeasureFailure struct {
	Measure string `json:"measure"`
	Error   string `json:"error"`
}

// FitResult is the outcome of a batch fit across measures.
type FitResult struct {
	Models   map[string]*Model
	Skipped  []string // insufficient history, left unmodeled
	Failures []MeasureFailure
}

// Fitter fits distribution models for many measures concurrently. Fitting
// dominates wall-clock time, so it runs once per panel version and the
// results are cached in the model store, not re-fit per scenario.
type Fitter struct {
	policy  domain.RatingPolicy
	workers int
	log     zerolog.Logger
}

// NewFitter creates a batch fitter. workers <= 0 defaults to NumCPU.
func NewFitter(policy domain.RatingPolicy, workers int, log zerolog.Logger) *Fitter {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Fitter{
		policy:  policy,
		workers: workers,
		log:     log.With().Str("module", "distribution_fitter").Logger(),
	}
}

// FitAll fits one model per measure from the historical panel. Rows must be
// the full panel; they are sorted here so callers need no particular order.
// Measures with insufficient history land in Skipped, fit errors in Failures;
// neither stops the batch. Cancelling ctx stops dispatching new measures and
// returns whatever finished.
func (f *Fitter) FitAll(ctx context.Context, rows []panel.Row, measures []string) FitResult {
	panel.SortRows(rows)

	type fitOutcome struct {
		measure string
		model   *Model
		err     error
	}

	work := make(chan string)
	outcomes := make(chan fitOutcome)

	var wg sync.WaitGroup
	for i := 0; i < f.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for measure := range work {
				training := TrainingRows(rows, measure, f.policy)
				model, err := Fit(measure, training, f.policy)
				outcomes <- fitOutcome{measure: measure, model: model, err: err}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, measure := range measures {
			select {
			case work <- measure:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	result := FitResult{Models: make(map[string]*Model)}
	for outcome := range outcomes {
		switch {
		case outcome.err == nil:
			result.Models[outcome.measure] = outcome.model
			f.log.Debug().
				Str("measure", outcome.measure).
				Int("observations", outcome.model.Observations).
				Msg("Fitted distribution model")
		case errors.Is(outcome.err, domain.ErrInsufficientHistory):
			result.Skipped = append(result.Skipped, outcome.measure)
			f.log.Info().
				Str("measure", outcome.measure).
				Msg("Insufficient history, measure left unmodeled")
		default:
			result.Failures = append(result.Failures, MeasureFailure{
				Measure: outcome.measure,
				Error:   outcome.err.Error(),
			})
			f.log.Error().
				Err(outcome.err).
				Str("measure", outcome.measure).
				Msg("Failed to fit distribution model")
		}
	}

	sort.Strings(result.Skipped)
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].Measure < result.Failures[j].Measure
	})

	return result
}
