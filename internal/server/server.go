// Package server provides the HTTP API for Stargazer: panel ingestion, model
// fitting, simulation, valuation, and improvement planning.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/stargazer/internal/config"
	"github.com/aristath/stargazer/internal/database"
	"github.com/aristath/stargazer/internal/domain"
	"github.com/aristath/stargazer/internal/modules/distribution"
	"github.com/aristath/stargazer/internal/modules/modelstore"
	"github.com/aristath/stargazer/internal/modules/panel"
	"github.com/aristath/stargazer/internal/modules/simulation"
	"github.com/aristath/stargazer/internal/modules/thresholds"
	"github.com/aristath/stargazer/internal/scheduler"
)

// Config holds server dependencies.
type Config struct {
	Log            zerolog.Logger
	Cfg            *config.Config
	PanelDB        *database.DB
	ModelsDB       *database.DB
	PanelRepo      *panel.Repository
	ThresholdsRepo *thresholds.Repository
	ModelStore     *modelstore.Store
	Fitter         *distribution.Fitter
	Engines        *simulation.Holder
	Policy         domain.RatingPolicy
}

// Server is the HTTP server.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	panelRepo      *panel.Repository
	thresholdsRepo *thresholds.Repository
	modelStore     *modelstore.Store
	fitter         *distribution.Fitter
	engines        *simulation.Holder
	policy         domain.RatingPolicy
	systemHandlers *SystemHandlers
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Cfg,
		panelRepo:      cfg.PanelRepo,
		thresholdsRepo: cfg.ThresholdsRepo,
		modelStore:     cfg.ModelStore,
		fitter:         cfg.Fitter,
		engines:        cfg.Engines,
		policy:         cfg.Policy,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.Cfg.DataDir, cfg.PanelDB, cfg.ModelsDB),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // simulations and batch fits can run long
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetJobs registers jobs for manual triggering via the API.
func (s *Server) SetJobs(sched *scheduler.Scheduler, refit, backup scheduler.Job) {
	s.systemHandlers.SetJobs(sched, refit, backup)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(120 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.systemHandlers.HandleHealth)
		r.Get("/system", s.systemHandlers.HandleSystem)
		r.Post("/jobs/{name}/run", s.systemHandlers.HandleRunJob)

		r.Put("/thresholds", s.handlePutThresholds)
		r.Get("/thresholds", s.handleGetThresholds)

		r.Post("/panel/rows", s.handleUpsertRows)
		r.Get("/panel/{contract}/{year}", s.handleGetRow)

		r.Post("/models/fit", s.handleFitModels)
		r.Get("/models", s.handleListModels)

		r.Post("/simulate", s.handleSimulate)
		r.Post("/valuate", s.handleValuate)
		r.Post("/improvement-path", s.handleImprovementPath)
		r.Post("/strategies", s.handleStrategies)
	})
}

// rebuildEngine reconstructs the simulation engine from the persisted
// thresholds, weights, and models, and publishes it. Called at startup and
// after any mutation of those inputs.
func (s *Server) rebuildEngine() error {
	table, err := s.thresholdsRepo.LoadTable()
	if err != nil {
		return fmt.Errorf("failed to load thresholds: %w", err)
	}
	weights, err := s.thresholdsRepo.LoadWeights()
	if err != nil {
		return fmt.Errorf("failed to load weights: %w", err)
	}
	models, err := s.modelStore.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	engine := simulation.NewEngine(table, weights, models, s.policy, s.cfg.Simulation.Workers, s.log)
	s.engines.Swap(engine)
	return nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
