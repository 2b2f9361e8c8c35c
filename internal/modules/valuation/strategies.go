package valuation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/stargazer/internal/modules/distribution"
	"github.com/aristath/stargazer/internal/modules/panel"
	"github.com/aristath/stargazer/internal/modules/simulation"
)

// Scenario is one candidate improvement plan: a named set of additive
// percentage-point adjustments.
type Scenario struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Improvements map[string]float64 `json:"improvements"`
}

// StrategyResult is a scenario's simulated economic outcome.
type StrategyResult struct {
	Scenario      Scenario   `json:"scenario"`
	Comparison    Comparison `json:"comparison"`
	EstimatedCost float64    `json:"estimated_cost"`
	ROI           Ratio      `json:"roi"`
}

// ScenarioFailure records one scenario whose evaluation failed; the batch
// continues past it.
type ScenarioFailure struct {
	Scenario string `json:"scenario"`
	Error    string `json:"error"`
}

// Analyzer evaluates candidate improvement scenarios against a simulation
// engine and ranks them by return on investment.
type Analyzer struct {
	engine       *simulation.Engine
	values       ValueTable
	costPerPoint float64
	log          zerolog.Logger
}

// NewAnalyzer creates a strategy analyzer. costPerPoint is the assumed dollar
// cost of improving any measure by one percentage point.
func NewAnalyzer(engine *simulation.Engine, values ValueTable, costPerPoint float64, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		engine:       engine,
		values:       values,
		costPerPoint: costPerPoint,
		log:          log.With().Str("module", "valuation").Logger(),
	}
}

// BuildScenarios generates the standard candidate set: a one-point lift for
// every modeled measure, plus a combined one-point lift across all measures
// whose weight meets highWeight (when any exist).
func BuildScenarios(models map[string]*distribution.Model, weights map[string]float64, highWeight float64) []Scenario {
	modeled := make([]string, 0, len(models))
	for measure := range models {
		modeled = append(modeled, measure)
	}
	sort.Strings(modeled)

	var scenarios []Scenario
	for _, measure := range modeled {
		scenarios = append(scenarios, Scenario{
			ID:           uuid.NewString(),
			Name:         fmt.Sprintf("Improve %s by 1%%", measure),
			Improvements: map[string]float64{measure: 1.0},
		})
	}

	combined := make(map[string]float64)
	for _, measure := range modeled {
		if weights[measure] >= highWeight {
			combined[measure] = 1.0
		}
	}
	if len(combined) > 0 {
		scenarios = append(scenarios, Scenario{
			ID:           uuid.NewString(),
			Name:         "Improve all high-weight measures by 1%",
			Improvements: combined,
		})
	}

	return scenarios
}

// Valuate runs the baseline and one improved simulation and compares them.
// The improved run reuses the baseline's seed so the two differ only by the
// adjustments, keeping the comparison free of sampling noise from seed
// differences.
func (a *Analyzer) Valuate(
	ctx context.Context,
	rows []panel.Row,
	base simulation.Request,
	improvements map[string]float64,
) (Comparison, error) {
	baseline, err := a.simulateWith(ctx, rows, base, nil)
	if err != nil {
		return Comparison{}, err
	}
	improved, err := a.simulateWith(ctx, rows, base, improvements)
	if err != nil {
		return Comparison{}, err
	}
	return Compare(baseline, improved, a.values), nil
}

// Analyze evaluates every scenario against a shared baseline and returns the
// results ranked by ROI, best first, alongside the failures collected on the
// way.
func (a *Analyzer) Analyze(
	ctx context.Context,
	rows []panel.Row,
	base simulation.Request,
	scenarios []Scenario,
) ([]StrategyResult, []ScenarioFailure, error) {
	baseline, err := a.simulateWith(ctx, rows, base, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("baseline simulation failed: %w", err)
	}

	var results []StrategyResult
	var failures []ScenarioFailure
	for _, scenario := range scenarios {
		if err := ctx.Err(); err != nil {
			return results, failures, err
		}

		improved, err := a.simulateWith(ctx, rows, base, scenario.Improvements)
		if err != nil {
			a.log.Error().Err(err).Str("scenario", scenario.Name).Msg("Scenario evaluation failed")
			failures = append(failures, ScenarioFailure{Scenario: scenario.Name, Error: err.Error()})
			continue
		}

		var totalPoints float64
		for _, points := range scenario.Improvements {
			totalPoints += points
		}
		cost := totalPoints * a.costPerPoint

		comparison := Compare(baseline, improved, a.values)
		results = append(results, StrategyResult{
			Scenario:      scenario,
			Comparison:    comparison,
			EstimatedCost: cost,
			ROI:           Ratio(ROI(comparison.NetChange, cost)),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		ri, rj := float64(results[i].ROI), float64(results[j].ROI)
		if ri != rj {
			// Descending; NaN (no valuation signal) sinks to the bottom.
			return ri > rj || math.IsNaN(rj) && !math.IsNaN(ri)
		}
		return results[i].Scenario.Name < results[j].Scenario.Name
	})

	return results, failures, nil
}

func (a *Analyzer) simulateWith(
	ctx context.Context,
	rows []panel.Row,
	base simulation.Request,
	improvements map[string]float64,
) (*simulation.Result, error) {
	req := base
	req.Adjustments = improvements
	return a.engine.Simulate(ctx, rows, req)
}
