package scheduler_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stargazer/internal/domain"
	"github.com/aristath/stargazer/internal/modules/distribution"
	"github.com/aristath/stargazer/internal/modules/modelstore"
	"github.com/aristath/stargazer/internal/modules/panel"
	"github.com/aristath/stargazer/internal/scheduler"
	testutil "github.com/aristath/stargazer/internal/testing"
)

func refitFixture(t *testing.T) (*panel.Repository, *distribution.Fitter, *modelstore.Store) {
	t.Helper()
	log := zerolog.Nop()

	panelDB, cleanupPanel := testutil.NewTestDB(t, "panel")
	t.Cleanup(cleanupPanel)
	modelsDB, cleanupModels := testutil.NewTestDB(t, "models")
	t.Cleanup(cleanupModels)

	panelRepo, err := panel.NewRepository(panelDB.Conn(), log)
	require.NoError(t, err)
	store, err := modelstore.NewStore(modelsDB.Conn(), log)
	require.NoError(t, err)

	return panelRepo, distribution.NewFitter(domain.DefaultPolicy(), 2, log), store
}

func TestRefitModelsJob_FitsPersistsAndNotifies(t *testing.T) {
	panelRepo, fitter, store := refitFixture(t)
	measures := []string{"C: Screening", "C: Adherence"}
	for _, row := range testutil.FixturePanel("H0001", measures, 14) {
		require.NoError(t, panelRepo.UpsertRow(row))
	}

	var notified map[string]*distribution.Model
	job := scheduler.NewRefitModelsJob(panelRepo, fitter, store,
		func(models map[string]*distribution.Model) { notified = models },
		zerolog.Nop())

	require.NoError(t, job.Run())

	require.Len(t, notified, len(measures))
	persisted, err := store.LoadAll()
	require.NoError(t, err)
	assert.Len(t, persisted, len(measures))
	for _, measure := range measures {
		assert.Contains(t, persisted, measure)
	}
}

func TestRefitModelsJob_EmptyPanelIsNoOp(t *testing.T) {
	panelRepo, fitter, store := refitFixture(t)

	called := false
	job := scheduler.NewRefitModelsJob(panelRepo, fitter, store,
		func(map[string]*distribution.Model) { called = true },
		zerolog.Nop())

	require.NoError(t, job.Run())

	assert.False(t, called, "callback must not fire without a fit")
	persisted, err := store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestRefitModelsJob_NilCallback(t *testing.T) {
	panelRepo, fitter, store := refitFixture(t)
	for _, row := range testutil.FixturePanel("H0001", []string{"C: Screening"}, 14) {
		require.NoError(t, panelRepo.UpsertRow(row))
	}

	job := scheduler.NewRefitModelsJob(panelRepo, fitter, store, nil, zerolog.Nop())

	assert.NoError(t, job.Run())
}

func TestScheduler_AddJobRejectsBadSchedule(t *testing.T) {
	sched := scheduler.New(zerolog.Nop())
	panelRepo, fitter, store := refitFixture(t)
	job := scheduler.NewRefitModelsJob(panelRepo, fitter, store, nil, zerolog.Nop())

	assert.Error(t, sched.AddJob("not a cron expression", job))
	assert.NoError(t, sched.AddJob("0 30 3 * * *", job))
}

func TestScheduler_RunNow(t *testing.T) {
	sched := scheduler.New(zerolog.Nop())
	panelRepo, fitter, store := refitFixture(t)
	job := scheduler.NewRefitModelsJob(panelRepo, fitter, store, nil, zerolog.Nop())

	assert.NoError(t, sched.RunNow(job))
}
