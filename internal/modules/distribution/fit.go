package distribution

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/stargazer/internal/domain"
)

// Fit estimates a beta regression for one measure by maximum likelihood.
//
// The optimizer is seeded with a two-stage least-squares estimate (logit-mean
// regression, then log-dispersion regression on the squared residual proxy)
// and refined with a derivative-free Nelder-Mead search over the joint
// coefficient vector. If refinement fails to improve the seed, the seed
// coefficients stand - they are already a consistent quasi-likelihood fit.
//
// Fewer than policy.MinObservations training rows yields
// ErrInsufficientHistory: a documented skip, not a failure.
func Fit(measure string, training []TrainingRow, policy domain.RatingPolicy) (*Model, error) {
	if len(training) < policy.MinObservations {
		return nil, fmt.Errorf("%w: %s has %d observations, need %d",
			domain.ErrInsufficientHistory, measure, len(training), policy.MinObservations)
	}

	nCoef := NumFeatures + 1
	meanStart, precStart := leastSquaresStart(training, nCoef)

	theta0 := make([]float64, 2*nCoef)
	copy(theta0, meanStart)
	copy(theta0[nCoef:], precStart)

	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			return negLogLikelihood(theta[:nCoef], theta[nCoef:], training)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: 2000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-8,
			Iterations: 200,
		},
	}

	meanCoef := meanStart
	precCoef := precStart
	result, err := optimize.Minimize(problem, theta0, settings, &optimize.NelderMead{})
	if err == nil && result != nil && result.F < problem.Func(theta0) {
		meanCoef = append([]float64(nil), result.X[:nCoef]...)
		precCoef = append([]float64(nil), result.X[nCoef:]...)
	}

	return &Model{
		Measure:      measure,
		FeatureNames: append([]string(nil), FeatureNames...),
		MeanCoef:     meanCoef,
		PrecCoef:     precCoef,
		Observations: len(training),
		FittedAt:     time.Now().UTC(),
	}, nil
}

// negLogLikelihood evaluates the beta negative log-likelihood for a joint
// coefficient vector. Degenerate parameter regions return +Inf so the search
// backs away from them.
func negLogLikelihood(meanCoef, precCoef []float64, training []TrainingRow) float64 {
	var nll float64
	for _, row := range training {
		mu := clamp(sigmoid(linearPredictor(meanCoef, row.X)), minMu, maxMu)
		phi := clamp(math.Exp(linearPredictor(precCoef, row.X)), minPhi, maxPhi)

		a := mu * phi
		b := (1 - mu) * phi
		la, _ := math.Lgamma(a)
		lb, _ := math.Lgamma(b)
		lab, _ := math.Lgamma(phi)

		ll := lab - la - lb + (a-1)*math.Log(row.Y) + (b-1)*math.Log(1-row.Y)
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			return math.Inf(1)
		}
		nll -= ll
	}
	return nll
}

// leastSquaresStart produces starting coefficients: the mean link is fit by
// ordinary least squares on logit(y); the precision link by least squares of
// log dispersion against the features, using the squared mean-fit residual as
// the per-row dispersion proxy. Singular designs (constant features) fall
// back to intercept-only estimates.
func leastSquaresStart(training []TrainingRow, nCoef int) (meanCoef, precCoef []float64) {
	n := len(training)
	design := mat.NewDense(n, nCoef, nil)
	logits := mat.NewVecDense(n, nil)
	for i, row := range training {
		design.Set(i, 0, 1)
		for j, v := range row.X {
			design.Set(i, j+1, v)
		}
		logits.SetVec(i, math.Log(row.Y/(1-row.Y)))
	}

	meanCoef = solveOrFallback(design, logits, interceptOnly(nCoef, meanOf(logits)))

	// Dispersion proxy: log((residual^2 + eps) / (mu(1-mu))) ~ -log(1+phi)
	resp := mat.NewVecDense(n, nil)
	for i, row := range training {
		mu := clamp(sigmoid(linearPredictor(meanCoef, row.X)), minMu, maxMu)
		resid := row.Y - mu
		ratio := (resid*resid + 1e-6) / (mu * (1 - mu))
		phi := 1/clamp(ratio, 1e-8, 1) - 1
		resp.SetVec(i, math.Log(clamp(phi, minPhi, maxPhi)))
	}
	precCoef = solveOrFallback(design, resp, interceptOnly(nCoef, meanOf(resp)))

	return meanCoef, precCoef
}

func solveOrFallback(design *mat.Dense, resp *mat.VecDense, fallback []float64) []float64 {
	var sol mat.VecDense
	if err := sol.SolveVec(design, resp); err != nil {
		return fallback
	}
	out := make([]float64, sol.Len())
	for i := range out {
		v := sol.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fallback
		}
		out[i] = v
	}
	return out
}

func interceptOnly(nCoef int, intercept float64) []float64 {
	coef := make([]float64, nCoef)
	coef[0] = intercept
	return coef
}

func meanOf(v *mat.VecDense) float64 {
	var sum float64
	for i := 0; i < v.Len(); i++ {
		sum += v.AtVec(i)
	}
	return sum / float64(v.Len())
}
