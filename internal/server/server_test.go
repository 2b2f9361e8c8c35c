package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stargazer/internal/config"
	"github.com/aristath/stargazer/internal/domain"
	"github.com/aristath/stargazer/internal/modules/distribution"
	"github.com/aristath/stargazer/internal/modules/improvement"
	"github.com/aristath/stargazer/internal/modules/modelstore"
	"github.com/aristath/stargazer/internal/modules/panel"
	"github.com/aristath/stargazer/internal/modules/simulation"
	"github.com/aristath/stargazer/internal/modules/thresholds"
	testutil "github.com/aristath/stargazer/internal/testing"
)

// newTestServer wires a full server against temporary databases. The initial
// engine is empty; handlers that mutate thresholds or models rebuild it.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := zerolog.Nop()

	panelDB, cleanupPanel := testutil.NewTestDB(t, "panel")
	t.Cleanup(cleanupPanel)
	modelsDB, cleanupModels := testutil.NewTestDB(t, "models")
	t.Cleanup(cleanupModels)

	panelRepo, err := panel.NewRepository(panelDB.Conn(), log)
	require.NoError(t, err)
	thresholdsRepo, err := thresholds.NewRepository(panelDB.Conn(), log)
	require.NoError(t, err)
	modelStore, err := modelstore.NewStore(modelsDB.Conn(), log)
	require.NoError(t, err)

	policy := domain.DefaultPolicy()
	cfg := &config.Config{
		DataDir:     t.TempDir(),
		Port:        0,
		DevMode:     true,
		CORSOrigins: []string{"*"},
		Simulation:  config.SimulationConfig{Draws: 200, Workers: 2, CostPerPoint: 10},
	}

	engine := simulation.NewEngine(thresholds.NewTable(nil), nil, nil, policy, 2, log)
	return New(Config{
		Log:            log,
		Cfg:            cfg,
		PanelDB:        panelDB,
		ModelsDB:       modelsDB,
		PanelRepo:      panelRepo,
		ThresholdsRepo: thresholdsRepo,
		ModelStore:     modelStore,
		Fitter:         distribution.NewFitter(policy, 2, log),
		Engines:        simulation.NewHolder(engine),
		Policy:         policy,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

// seedPanel uploads the synthetic fixture panel through the API.
func seedPanel(t *testing.T, s *Server, measures []string) {
	t.Helper()
	rows := testutil.FixturePanel("H0001", measures, 14)
	payload := make([]rowPayload, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, rowToPayload(row))
	}
	rec := doJSON(t, s, http.MethodPost, "/api/panel/rows", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// seedThresholds installs cutpoint expressions matching the fixture bands.
func seedThresholds(t *testing.T, s *Server, measures []string) {
	t.Helper()
	spec := thresholds.BandSpec{
		1: "< 55 %",
		2: ">= 55 % to < 70 %",
		3: ">= 70 % to < 85 %",
		4: ">= 85 % to < 95 %",
		5: ">= 95 %",
	}
	bands := make(map[string]thresholds.BandSpec, len(measures))
	weights := make(map[string]float64, len(measures))
	for i, measure := range measures {
		bands[measure] = spec
		weights[measure] = float64(1 + 2*i)
	}
	rec := doJSON(t, s, http.MethodPut, "/api/thresholds", thresholdsPayload{
		Bands: bands, Weights: weights,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decodeJSON(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	databases, ok := body["databases"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", databases["panel"])
	assert.Equal(t, "ok", databases["models"])
}

func TestThresholdsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	measures := []string{"C: Screening", "C: Adherence"}
	seedThresholds(t, s, measures)

	rec := doJSON(t, s, http.MethodGet, "/api/thresholds", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Bands   map[string][]bandPayload `json:"bands"`
		Weights map[string]float64       `json:"weights"`
	}
	decodeJSON(t, rec, &body)
	require.Len(t, body.Bands, 2)
	assert.Equal(t, map[string]float64{measures[0]: 1, measures[1]: 3}, body.Weights)

	bands := body.Bands[measures[0]]
	require.Len(t, bands, 5)
	assert.Equal(t, 1, bands[0].Stars)
	assert.Nil(t, bands[0].Lower, "open lower bound must serialize as null")
	require.NotNil(t, bands[0].Upper)
	assert.Equal(t, 55.0, *bands[0].Upper)
	assert.Nil(t, bands[4].Upper, "open upper bound must serialize as null")
}

func TestPutThresholdsRejectsNegativeWeight(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPut, "/api/thresholds", thresholdsPayload{
		Bands:   map[string]thresholds.BandSpec{"C: Screening": {1: "< 55 %", 5: ">= 55 %"}},
		Weights: map[string]float64{"C: Screening": -1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Nothing may have been persisted by the rejected request.
	rec = doJSON(t, s, http.MethodGet, "/api/thresholds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Weights map[string]float64 `json:"weights"`
	}
	decodeJSON(t, rec, &body)
	assert.Empty(t, body.Weights)
}

func TestPanelUpsertAndGet(t *testing.T) {
	s := newTestServer(t)
	measures := []string{"C: Screening"}
	seedPanel(t, s, measures)

	rec := doJSON(t, s, http.MethodGet, "/api/panel/H0001/2015", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var row rowPayload
	decodeJSON(t, rec, &row)
	assert.Equal(t, "H0001", row.ContractID)
	assert.Equal(t, 2015, row.Year)
	require.Contains(t, row.Scores, measures[0])
	require.NotNil(t, row.Scores[measures[0]])
}

func TestPanelGetMissingRow(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/panel/H9999/2015", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPanelGetBadYear(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/panel/H0001/latest", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPanelUpsertRejectsIncompleteRow(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/panel/rows", []rowPayload{
		{ContractID: "", Year: 2015},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFitModelsOnEmptyPanel(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/models/fit", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFitThenSimulate(t *testing.T) {
	s := newTestServer(t)
	measures := []string{"C: Screening", "C: Adherence"}
	seedThresholds(t, s, measures)
	seedPanel(t, s, measures)

	rec := doJSON(t, s, http.MethodPost, "/api/models/fit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fitBody struct {
		Fitted  []string `json:"fitted"`
		Skipped []string `json:"skipped"`
	}
	decodeJSON(t, rec, &fitBody)
	assert.ElementsMatch(t, measures, fitBody.Fitted)
	assert.Empty(t, fitBody.Skipped)

	rec = doJSON(t, s, http.MethodPost, "/api/simulate", simulation.Request{
		ContractID: "H0001", Year: 2023, Draws: 100, Seed: 7,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result simulation.Result
	decodeJSON(t, rec, &result)
	assert.Equal(t, 100, result.CompletedDraws)
	assert.Equal(t, int64(7), result.Seed)
	var total float64
	for _, p := range result.Probabilities {
		total += p
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestSimulateUnknownContract(t *testing.T) {
	s := newTestServer(t)
	measures := []string{"C: Screening"}
	seedThresholds(t, s, measures)
	seedPanel(t, s, measures)

	rec := doJSON(t, s, http.MethodPost, "/api/simulate", simulation.Request{
		ContractID: "H9999", Year: 2023, Draws: 10, Seed: 1,
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimulateAppliesDefaultDrawsAndSeed(t *testing.T) {
	s := newTestServer(t)
	measures := []string{"C: Screening"}
	seedThresholds(t, s, measures)
	seedPanel(t, s, measures)

	rec := doJSON(t, s, http.MethodPost, "/api/simulate", simulation.Request{
		ContractID: "H0001", Year: 2023,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result simulation.Result
	decodeJSON(t, rec, &result)
	assert.Equal(t, 200, result.RequestedDraws, "zero draws fall back to the configured default")
	assert.NotZero(t, result.Seed, "a wall-clock seed is assigned and echoed")
}

func TestValuateRequiresImprovements(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/valuate", valuateRequest{
		Request: simulation.Request{ContractID: "H0001", Year: 2023},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValuateComparesBaselineAndImproved(t *testing.T) {
	s := newTestServer(t)
	measures := []string{"C: Screening"}
	seedThresholds(t, s, measures)
	seedPanel(t, s, measures)
	require.Equal(t, http.StatusOK,
		doJSON(t, s, http.MethodPost, "/api/models/fit", nil).Code)

	rec := doJSON(t, s, http.MethodPost, "/api/valuate", valuateRequest{
		Request:      simulation.Request{ContractID: "H0001", Year: 2023, Draws: 100, Seed: 3},
		Improvements: map[string]float64{"C: Screening": 2},
		Values:       map[int]float64{3: 100, 4: 250, 5: 500},
		Cost:         1000,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Comparison struct {
			RatingChange float64 `json:"rating_change"`
		} `json:"comparison"`
	}
	decodeJSON(t, rec, &body)
	assert.GreaterOrEqual(t, body.Comparison.RatingChange, 0.0)
}

func TestImprovementPath(t *testing.T) {
	s := newTestServer(t)
	measures := []string{"C: Screening", "C: Adherence"}
	seedThresholds(t, s, measures)
	seedPanel(t, s, measures)

	rec := doJSON(t, s, http.MethodPost, "/api/improvement-path", improvementRequest{
		ContractID: "H0001", Year: 2023,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var path improvement.Path
	decodeJSON(t, rec, &path)
	assert.NotEmpty(t, path.Opportunities)
	assert.Greater(t, path.TargetRating, path.CurrentRating)
}

func TestImprovementPathMissingContract(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/improvement-path", improvementRequest{
		ContractID: "H9999", Year: 2023,
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStrategiesWithoutModels(t *testing.T) {
	s := newTestServer(t)
	measures := []string{"C: Screening"}
	seedThresholds(t, s, measures)
	seedPanel(t, s, measures)

	rec := doJSON(t, s, http.MethodPost, "/api/strategies", strategiesRequest{
		Request: simulation.Request{ContractID: "H0001", Year: 2023, Draws: 10, Seed: 1},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStrategiesRanked(t *testing.T) {
	s := newTestServer(t)
	measures := []string{"C: Screening", "C: Adherence"}
	seedThresholds(t, s, measures)
	seedPanel(t, s, measures)
	require.Equal(t, http.StatusOK,
		doJSON(t, s, http.MethodPost, "/api/models/fit", nil).Code)

	rec := doJSON(t, s, http.MethodPost, "/api/strategies", strategiesRequest{
		Request: simulation.Request{ContractID: "H0001", Year: 2023, Draws: 100, Seed: 5},
		Values:  map[int]float64{3: 100, 4: 250, 5: 500},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Strategies []struct {
			Scenario struct {
				Name string `json:"name"`
			} `json:"scenario"`
			EstimatedCost float64 `json:"estimated_cost"`
		} `json:"strategies"`
		Failures []interface{} `json:"failures"`
	}
	decodeJSON(t, rec, &body)
	// Two single-measure scenarios plus the combined one (Adherence weight 3
	// clears the default 1.5 bar).
	assert.Len(t, body.Strategies, 3)
	assert.Empty(t, body.Failures)
}

func TestRunJobWithoutScheduler(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/jobs/refit_models/run", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunUnknownJob(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/jobs/nonsense/run", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code,
		"scheduler check runs before name resolution")
}
