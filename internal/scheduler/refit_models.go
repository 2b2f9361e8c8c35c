package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stargazer/internal/modules/distribution"
	"github.com/aristath/stargazer/internal/modules/modelstore"
	"github.com/aristath/stargazer/internal/modules/panel"
)

// RefitModelsJob re-fits every measure's distribution model from the current
// panel and persists the results. Fitting dominates wall-clock time, so it
// runs off-hours instead of per request.
type RefitModelsJob struct {
	panelRepo *panel.Repository
	fitter    *distribution.Fitter
	store     *modelstore.Store
	onFitted  func(models map[string]*distribution.Model)
	timeout   time.Duration
	log       zerolog.Logger
}

// NewRefitModelsJob creates the refit job. onFitted, if non-nil, receives the
// freshly fitted models after they are persisted (used to swap the live
// simulation engine).
func NewRefitModelsJob(
	panelRepo *panel.Repository,
	fitter *distribution.Fitter,
	store *modelstore.Store,
	onFitted func(models map[string]*distribution.Model),
	log zerolog.Logger,
) *RefitModelsJob {
	return &RefitModelsJob{
		panelRepo: panelRepo,
		fitter:    fitter,
		store:     store,
		onFitted:  onFitted,
		timeout:   30 * time.Minute,
		log:       log.With().Str("job", "refit_models").Logger(),
	}
}

// Name returns the job name
func (j *RefitModelsJob) Name() string {
	return "refit_models"
}

// Run fits and persists models for every measure in the panel.
func (j *RefitModelsJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	rows, err := j.panelRepo.AllRows()
	if err != nil {
		return fmt.Errorf("failed to load panel: %w", err)
	}
	if len(rows) == 0 {
		j.log.Info().Msg("Panel is empty, nothing to fit")
		return nil
	}

	measures, err := j.panelRepo.Measures()
	if err != nil {
		return fmt.Errorf("failed to list measures: %w", err)
	}

	result := j.fitter.FitAll(ctx, rows, measures)
	if err := j.store.SaveAll(result.Models); err != nil {
		return fmt.Errorf("failed to persist models: %w", err)
	}

	if j.onFitted != nil {
		j.onFitted(result.Models)
	}

	j.log.Info().
		Int("fitted", len(result.Models)).
		Int("skipped", len(result.Skipped)).
		Int("failed", len(result.Failures)).
		Msg("Model refit complete")
	return nil
}
