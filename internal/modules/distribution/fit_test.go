package distribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/aristath/stargazer/internal/domain"
)

// syntheticTraining builds training rows whose targets hover around a level
// with feature-correlated drift, enough structure for a fit to converge.
func syntheticTraining(n int, level float64) []TrainingRow {
	rows := make([]TrainingRow, 0, n)
	for i := 0; i < n; i++ {
		lag := level*100 + float64(i%7) - 3
		x := make([]float64, NumFeatures)
		x[featLag1] = lag
		x[featDiff1] = float64(i%3) - 1
		x[featDiff2] = float64(i%5) - 2
		y := level + 0.002*(float64(i%7)-3)
		rows = append(rows, TrainingRow{Y: y, X: x})
	}
	return rows
}

func TestFit_InsufficientHistory(t *testing.T) {
	policy := domain.DefaultPolicy()

	_, err := Fit("m", syntheticTraining(policy.MinObservations-1, 0.7), policy)

	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
}

func TestFit_ExactMinimumObservationsFits(t *testing.T) {
	policy := domain.DefaultPolicy()

	model, err := Fit("m", syntheticTraining(policy.MinObservations, 0.7), policy)

	require.NoError(t, err)
	assert.Equal(t, policy.MinObservations, model.Observations)
}

func TestFit_RecoversTargetLevel(t *testing.T) {
	policy := domain.DefaultPolicy()
	training := syntheticTraining(40, 0.7)

	model, err := Fit("m", training, policy)
	require.NoError(t, err)

	assert.Equal(t, "m", model.Measure)
	assert.Equal(t, FeatureNames, model.FeatureNames)
	assert.Len(t, model.MeanCoef, NumFeatures+1)
	assert.Len(t, model.PrecCoef, NumFeatures+1)

	// The conditional mean at a typical feature vector should sit near the
	// data level. Loose tolerance: this checks sanity, not optimality.
	mean, err := model.Mean(training[20].X)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, mean, 0.15)
}

func TestModel_SampleStaysInUnitInterval(t *testing.T) {
	policy := domain.DefaultPolicy()
	training := syntheticTraining(40, 0.6)
	model, err := Fit("m", training, policy)
	require.NoError(t, err)

	src := rand.NewSource(42)
	for i := 0; i < 200; i++ {
		v, err := model.Sample(training[10].X, src)
		require.NoError(t, err)
		assert.Greater(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestModel_SampleDeterministicPerSource(t *testing.T) {
	policy := domain.DefaultPolicy()
	training := syntheticTraining(40, 0.6)
	model, err := Fit("m", training, policy)
	require.NoError(t, err)

	draw := func() []float64 {
		src := rand.NewSource(7)
		out := make([]float64, 5)
		for i := range out {
			out[i], _ = model.Sample(training[0].X, src)
		}
		return out
	}

	assert.Equal(t, draw(), draw(), "same source seed must reproduce the same draws")
}

func TestModel_ParamsRejectsWrongFeatureCount(t *testing.T) {
	policy := domain.DefaultPolicy()
	model, err := Fit("m", syntheticTraining(40, 0.6), policy)
	require.NoError(t, err)

	_, _, err = model.Params([]float64{1, 2})
	assert.Error(t, err)
}

func TestNegLogLikelihood_FiniteAtSeed(t *testing.T) {
	training := syntheticTraining(30, 0.5)
	nCoef := NumFeatures + 1
	meanStart, precStart := leastSquaresStart(training, nCoef)

	nll := negLogLikelihood(meanStart, precStart, training)

	assert.False(t, nll != nll, "seed likelihood must not be NaN")
	assert.Less(t, nll, 1e12)
}
