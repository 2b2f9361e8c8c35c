package distribution

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// Numerical guards for the link functions. The likelihood is undefined at the
// exact boundaries and the optimizer may wander through extreme coefficients.
const (
	minMu  = 1e-6
	maxMu  = 1 - 1e-6
	minPhi = 1e-2
	maxPhi = 1e6
)

// Model is a fitted per-measure beta regression: a mapping from a trend
// feature vector to the two parameters of a beta distribution over the
// (0,1)-scaled outcome. The mean uses a logit link, the precision a log link.
// Immutable after fitting.
type Model struct {
	Measure      string    `msgpack:"measure" json:"measure"`
	FeatureNames []string  `msgpack:"feature_names" json:"feature_names"`
	MeanCoef     []float64 `msgpack:"mean_coef" json:"mean_coef"` // intercept first
	PrecCoef     []float64 `msgpack:"prec_coef" json:"prec_coef"` // intercept first
	Observations int       `msgpack:"observations" json:"observations"`
	FittedAt     time.Time `msgpack:"fitted_at" json:"fitted_at"`
}

// linearPredictor computes intercept + coef·x.
func linearPredictor(coef, x []float64) float64 {
	eta := coef[0]
	for i, v := range x {
		eta += coef[i+1] * v
	}
	return eta
}

// Params returns the conditional beta shape parameters for a feature vector.
func (m *Model) Params(x []float64) (alpha, beta float64, err error) {
	if len(x) != len(m.FeatureNames) {
		return 0, 0, fmt.Errorf("model %s expects %d features, got %d", m.Measure, len(m.FeatureNames), len(x))
	}

	mu := sigmoid(linearPredictor(m.MeanCoef, x))
	mu = clamp(mu, minMu, maxMu)

	phi := math.Exp(linearPredictor(m.PrecCoef, x))
	phi = clamp(phi, minPhi, maxPhi)

	alpha = mu * phi
	beta = (1 - mu) * phi
	if !isFinitePositive(alpha) || !isFinitePositive(beta) {
		return 0, 0, fmt.Errorf("model %s produced degenerate shape (alpha=%v beta=%v)", m.Measure, alpha, beta)
	}
	return alpha, beta, nil
}

// Sample draws one value from the conditional distribution for a feature
// vector, on the (0,1) scale. Callers multiply by 100 and clip after applying
// any deterministic adjustment.
func (m *Model) Sample(x []float64, src rand.Source) (float64, error) {
	alpha, beta, err := m.Params(x)
	if err != nil {
		return 0, err
	}
	dist := distuv.Beta{Alpha: alpha, Beta: beta, Src: src}
	return dist.Rand(), nil
}

// Mean returns the conditional expected value on the (0,1) scale.
func (m *Model) Mean(x []float64) (float64, error) {
	alpha, beta, err := m.Params(x)
	if err != nil {
		return 0, err
	}
	return alpha / (alpha + beta), nil
}

func sigmoid(eta float64) float64 {
	return 1 / (1 + math.Exp(-eta))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
