package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/stargazer/internal/domain"
	"github.com/aristath/stargazer/internal/modules/improvement"
	"github.com/aristath/stargazer/internal/modules/panel"
	"github.com/aristath/stargazer/internal/modules/rating"
	"github.com/aristath/stargazer/internal/modules/simulation"
	"github.com/aristath/stargazer/internal/modules/thresholds"
	"github.com/aristath/stargazer/internal/modules/valuation"
)

// writeJSON writes a JSON response.
func writeJSON(log zerolog.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func writeError(log zerolog.Logger, w http.ResponseWriter, status int, err error) {
	writeJSON(log, w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(s.log, w, status, data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	writeError(s.log, w, status, err)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// --- thresholds ---

type thresholdsPayload struct {
	// Bands maps measure -> star level -> cutpoint expression
	// (e.g. ">= 53 % to < 67 %"). Unparseable bands are skipped.
	Bands   map[string]thresholds.BandSpec `json:"bands"`
	Weights map[string]float64             `json:"weights"`
}

func (s *Server) handlePutThresholds(w http.ResponseWriter, r *http.Request) {
	var payload thresholdsPayload
	if !s.decodeBody(w, r, &payload) {
		return
	}
	for measure, weight := range payload.Weights {
		if weight < 0 {
			s.writeError(w, http.StatusBadRequest,
				fmt.Errorf("weight for %s must be non-negative, got %v", measure, weight))
			return
		}
	}

	table := thresholds.BuildTable(payload.Bands, s.log)
	if err := s.thresholdsRepo.ReplaceTable(table, payload.Weights); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.rebuildEngine(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"measures": len(table.Measures()),
		"weights":  len(payload.Weights),
	})
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	table, err := s.thresholdsRepo.LoadTable()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	weights, err := s.thresholdsRepo.LoadWeights()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	bands := make(map[string][]bandPayload, len(table.Measures()))
	for _, measure := range table.Measures() {
		list := table.Bands(measure)
		out := make([]bandPayload, 0, len(list))
		for _, band := range list {
			out = append(out, toBandPayload(band))
		}
		bands[measure] = out
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bands":   bands,
		"weights": weights,
	})
}

// bandPayload is the wire form of a band. Open-ended bounds (±Inf internally)
// are null on the wire, since JSON has no infinity.
type bandPayload struct {
	Stars int      `json:"stars"`
	Lower *float64 `json:"lower"`
	Upper *float64 `json:"upper"`
}

func toBandPayload(band thresholds.Band) bandPayload {
	p := bandPayload{Stars: band.Stars}
	if !math.IsInf(band.Lower, 0) {
		v := band.Lower
		p.Lower = &v
	}
	if !math.IsInf(band.Upper, 0) {
		v := band.Upper
		p.Upper = &v
	}
	return p
}

// --- panel ---

// rowPayload is the wire form of an observation row. A null score means the
// measure is missing for that contract/year.
type rowPayload struct {
	ContractID string              `json:"contract_id"`
	Year       int                 `json:"year"`
	Scores     map[string]*float64 `json:"scores"`
}

func (p rowPayload) toRow() panel.Row {
	scores := make(map[string]domain.Score, len(p.Scores))
	for measure, value := range p.Scores {
		if value == nil {
			scores[measure] = domain.MissingScore()
		} else {
			scores[measure] = domain.ScoreOf(*value)
		}
	}
	return panel.Row{ContractID: p.ContractID, Year: p.Year, Scores: scores}
}

func rowToPayload(row panel.Row) rowPayload {
	scores := make(map[string]*float64, len(row.Scores))
	for measure, score := range row.Scores {
		if score.Valid {
			v := score.Value
			scores[measure] = &v
		} else {
			scores[measure] = nil
		}
	}
	return rowPayload{ContractID: row.ContractID, Year: row.Year, Scores: scores}
}

func (s *Server) handleUpsertRows(w http.ResponseWriter, r *http.Request) {
	var payload []rowPayload
	if !s.decodeBody(w, r, &payload) {
		return
	}

	for _, p := range payload {
		if p.ContractID == "" || p.Year == 0 {
			s.writeError(w, http.StatusBadRequest,
				errors.New("each row needs a contract_id and a year"))
			return
		}
	}

	for _, p := range payload {
		if err := s.panelRepo.UpsertRow(p.toRow()); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"rows": len(payload)})
}

func (s *Server) handleGetRow(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contract")
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("year must be an integer"))
		return
	}

	row, err := s.panelRepo.GetRow(contractID, year)
	if err != nil {
		if errors.Is(err, domain.ErrNoDataForContractYear) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rowToPayload(row))
}

// --- models ---

func (s *Server) handleFitModels(w http.ResponseWriter, r *http.Request) {
	rows, err := s.panelRepo.AllRows()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	measures, err := s.panelRepo.Measures()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(rows) == 0 || len(measures) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("panel is empty, nothing to fit"))
		return
	}

	result := s.fitter.FitAll(r.Context(), rows, measures)
	if err := s.modelStore.SaveAll(result.Models); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.rebuildEngine(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	fitted := make([]string, 0, len(result.Models))
	for measure := range result.Models {
		fitted = append(fitted, measure)
	}
	sort.Strings(fitted)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"fitted":   fitted,
		"skipped":  result.Skipped,
		"failures": result.Failures,
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	infos, err := s.modelStore.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"models": infos})
}

// --- simulation ---

// normalizeRequest fills request defaults: configured draw count and a
// wall-clock seed. The effective seed is echoed in the result, so any run can
// be reproduced.
func (s *Server) normalizeRequest(req *simulation.Request) {
	if req.Draws <= 0 {
		req.Draws = s.cfg.Simulation.Draws
	}
	if req.Seed == 0 {
		req.Seed = time.Now().UnixNano()
	}
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulation.Request
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.normalizeRequest(&req)

	rows, err := s.panelRepo.AllRows()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	result, err := s.engines.Engine().Simulate(r.Context(), rows, req)
	if err != nil {
		if errors.Is(err, domain.ErrNoDataForContractYear) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// --- valuation ---

type valuateRequest struct {
	simulation.Request
	Improvements map[string]float64   `json:"improvements"`
	Values       valuation.ValueTable `json:"values"`
	Cost         float64              `json:"cost"`
}

func (s *Server) handleValuate(w http.ResponseWriter, r *http.Request) {
	var req valuateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req.Improvements) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("improvements must not be empty"))
		return
	}
	s.normalizeRequest(&req.Request)

	rows, err := s.panelRepo.AllRows()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	analyzer := valuation.NewAnalyzer(s.engines.Engine(), req.Values, s.cfg.Simulation.CostPerPoint, s.log)
	comparison, err := analyzer.Valuate(r.Context(), rows, req.Request, req.Improvements)
	if err != nil {
		if errors.Is(err, domain.ErrNoDataForContractYear) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"comparison": comparison,
		"roi":        valuation.Ratio(valuation.ROI(comparison.NetChange, req.Cost)),
	})
}

// --- improvement path ---

type improvementRequest struct {
	ContractID string `json:"contract_id"`
	Year       int    `json:"year"`
	// Target is the desired composite rating. Zero means "the next published
	// cutoff above the current rating".
	Target float64 `json:"target"`
}

func (s *Server) handleImprovementPath(w http.ResponseWriter, r *http.Request) {
	var req improvementRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	row, err := s.panelRepo.GetRow(req.ContractID, req.Year)
	if err != nil {
		if errors.Is(err, domain.ErrNoDataForContractYear) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	table, err := s.thresholdsRepo.LoadTable()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	weights, err := s.thresholdsRepo.LoadWeights()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	classifications := make(map[string]thresholds.Classification, len(row.Scores))
	ratings := make(map[string]domain.Stars, len(row.Scores))
	for measure, score := range row.Scores {
		clsf, err := table.Classify(measure, score)
		if err != nil {
			// Measures without thresholds (or with off-scale scores) cannot
			// be planned around; leave them out of the path.
			s.log.Debug().Err(err).Str("measure", measure).Msg("Excluding measure from path")
			continue
		}
		classifications[measure] = clsf
		ratings[measure] = clsf.Stars
	}

	current := rating.Aggregate(ratings, weights)
	if !current.Valid {
		s.writeError(w, http.StatusUnprocessableEntity,
			errors.New("no rated measures, composite rating undefined"))
		return
	}

	target := req.Target
	if target == 0 {
		next, ok := rating.NextCutoff(current.Value, s.policy)
		if !ok {
			// Already above every published cutoff; an empty path says so.
			next = current.Value
		}
		target = next
	}

	path := improvement.ComputePath(classifications, weights, current.Value, target, s.policy)
	s.writeJSON(w, http.StatusOK, path)
}

// --- strategies ---

type strategiesRequest struct {
	simulation.Request
	Values       valuation.ValueTable `json:"values"`
	CostPerPoint float64              `json:"cost_per_point"`
	// HighWeight is the weight at or above which a measure joins the
	// combined high-weight scenario.
	HighWeight float64 `json:"high_weight"`
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	var req strategiesRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.normalizeRequest(&req.Request)

	costPerPoint := req.CostPerPoint
	if costPerPoint == 0 {
		costPerPoint = s.cfg.Simulation.CostPerPoint
	}
	highWeight := req.HighWeight
	if highWeight == 0 {
		highWeight = 1.5
	}

	rows, err := s.panelRepo.AllRows()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	models, err := s.modelStore.LoadAll()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	weights, err := s.thresholdsRepo.LoadWeights()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	scenarios := valuation.BuildScenarios(models, weights, highWeight)
	if len(scenarios) == 0 {
		s.writeError(w, http.StatusUnprocessableEntity,
			errors.New("no fitted models, no scenarios to evaluate"))
		return
	}

	analyzer := valuation.NewAnalyzer(s.engines.Engine(), req.Values, costPerPoint, s.log)
	results, failures, err := analyzer.Analyze(r.Context(), rows, req.Request, scenarios)
	if err != nil {
		if errors.Is(err, domain.ErrNoDataForContractYear) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": results,
		"failures":   failures,
	})
}
