package thresholds

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stargazer/internal/domain"
)

func TestParseBandExpr(t *testing.T) {
	tests := []struct {
		name      string
		expr      string
		wantLower float64
		wantUpper float64
	}{
		{"percent range", ">= 53 % to < 67 %", 53, 67},
		{"open below", "< 53 %", math.Inf(-1), 53},
		{"open above", ">= 95 %", 95, math.Inf(1)},
		{"strict above", "> -0.5", -0.5, math.Inf(1)},
		{"bare ratio", ">= 0.421057", 0.421057, math.Inf(1)},
		{"negative range", ">= -0.179809 to < 0", -0.179809, 0},
		{"perfect score", "100", 100, 100},
		{"padded", "  >= 10 %  to  < 20 %  ", 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lower, upper, err := ParseBandExpr(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLower, lower)
			assert.Equal(t, tt.wantUpper, upper)
		})
	}
}

func TestParseBandExpr_Invalid(t *testing.T) {
	for _, expr := range []string{"", "garbage", ">= abc", "to <"} {
		t.Run(expr, func(t *testing.T) {
			_, _, err := ParseBandExpr(expr)
			assert.Error(t, err)
		})
	}
}

func TestBuildTable_SkipsUnparseableBands(t *testing.T) {
	specs := map[string]BandSpec{
		"C: Screening": {
			1: "< 53 %",
			2: ">= 53 % to < 67 %",
			3: "not a threshold",
			4: ">= 67 % to < 95 %",
			5: ">= 95 %",
		},
		"C: Hopeless": {
			1: "???",
		},
	}

	table := BuildTable(specs, zerolog.Nop())

	require.True(t, table.Has("C: Screening"))
	assert.Len(t, table.Bands("C: Screening"), 4)
	assert.False(t, table.Has("C: Hopeless"), "measure with no parseable bands is omitted")
}

func TestBuildTable_PerfectScoreBandClassifiesViaRescue(t *testing.T) {
	// The "100" band is a degenerate [100, 100) interval; the classifier's
	// top-band rescue is what makes a perfect score land in it.
	table := BuildTable(map[string]BandSpec{
		"m": {
			1: "< 50 %",
			2: ">= 50 % to < 100 %",
			3: "100",
		},
	}, zerolog.Nop())

	clsf, err := table.Classify("m", domain.ScoreOf(100))

	require.NoError(t, err)
	assert.Equal(t, 3, clsf.Stars.Level)
}

func TestCollapseMeasureKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"C01: Breast Cancer Screening", "C: Breast Cancer Screening"},
		{"D10: Call Center Hold Time", "D: Call Center Hold Time"},
		{"C: Already Collapsed", "C: Already Collapsed"},
		{"No Prefix Here", "No Prefix Here"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CollapseMeasureKey(tt.in))
	}
}
