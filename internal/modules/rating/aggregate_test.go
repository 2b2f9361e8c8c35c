package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stargazer/internal/domain"
)

func TestAggregate_WeightedMean(t *testing.T) {
	ratings := map[string]domain.Stars{
		"A": domain.StarsOf(3),
		"B": domain.StarsOf(5),
	}
	weights := map[string]float64{"A": 1, "B": 3}

	got := Aggregate(ratings, weights)

	require.True(t, got.Valid)
	assert.InDelta(t, 4.5, got.Value, 1e-12)
}

func TestAggregate_EqualWeights(t *testing.T) {
	ratings := map[string]domain.Stars{
		"A": domain.StarsOf(2),
		"B": domain.StarsOf(4),
		"C": domain.StarsOf(3),
	}
	weights := map[string]float64{"A": 1, "B": 1, "C": 1}

	got := Aggregate(ratings, weights)

	require.True(t, got.Valid)
	assert.InDelta(t, 3.0, got.Value, 1e-12)
}

func TestAggregate_UndefinedRatingsExcluded(t *testing.T) {
	ratings := map[string]domain.Stars{
		"A": domain.StarsOf(4),
		"B": domain.UndefinedStars(),
	}
	weights := map[string]float64{"A": 2, "B": 100}

	got := Aggregate(ratings, weights)

	require.True(t, got.Valid)
	assert.InDelta(t, 4.0, got.Value, 1e-12, "undefined rating must not drag the mean")
}

func TestAggregate_UnweightedMeasuresExcluded(t *testing.T) {
	ratings := map[string]domain.Stars{
		"A": domain.StarsOf(4),
		"B": domain.StarsOf(1),
	}
	weights := map[string]float64{"A": 2}

	got := Aggregate(ratings, weights)

	require.True(t, got.Valid)
	assert.InDelta(t, 4.0, got.Value, 1e-12)
}

func TestAggregate_NoRatedWeightIsUndefined(t *testing.T) {
	tests := []struct {
		name    string
		ratings map[string]domain.Stars
		weights map[string]float64
	}{
		{"empty inputs", nil, nil},
		{"all undefined", map[string]domain.Stars{"A": domain.UndefinedStars()}, map[string]float64{"A": 1}},
		{"no overlapping weights", map[string]domain.Stars{"A": domain.StarsOf(3)}, map[string]float64{"B": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(tt.ratings, tt.weights)
			assert.False(t, got.Valid, "zero included weight must be undefined, not zero")
		})
	}
}

func TestRatedWeight(t *testing.T) {
	ratings := map[string]domain.Stars{
		"A": domain.StarsOf(3),
		"B": domain.UndefinedStars(),
		"C": domain.StarsOf(5),
	}
	weights := map[string]float64{"A": 1, "B": 2, "C": 4}

	assert.InDelta(t, 5.0, RatedWeight(ratings, weights), 1e-12)
}
