// Package main is the entry point for Stargazer, a probabilistic forecaster
// of composite star ratings. It ingests an observation panel, fits per-measure
// beta-regression models, simulates rating distributions, and prices
// improvement strategies.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/stargazer/internal/config"
	"github.com/aristath/stargazer/internal/database"
	"github.com/aristath/stargazer/internal/domain"
	"github.com/aristath/stargazer/internal/modules/distribution"
	"github.com/aristath/stargazer/internal/modules/modelstore"
	"github.com/aristath/stargazer/internal/modules/panel"
	"github.com/aristath/stargazer/internal/modules/simulation"
	"github.com/aristath/stargazer/internal/modules/thresholds"
	"github.com/aristath/stargazer/internal/reliability"
	"github.com/aristath/stargazer/internal/scheduler"
	"github.com/aristath/stargazer/internal/server"
	"github.com/aristath/stargazer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)
	log.Info().Str("data_dir", cfg.DataDir).Int("port", cfg.Port).Msg("Starting Stargazer")

	// Databases
	panelDB, err := database.New(database.Config{
		Path:    cfg.PanelDBPath(),
		Profile: database.ProfileStandard,
		Name:    "panel",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open panel database")
	}
	defer panelDB.Close()

	modelsDB, err := database.New(database.Config{
		Path:    cfg.ModelsDBPath(),
		Profile: database.ProfileStandard,
		Name:    "models",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open models database")
	}
	defer modelsDB.Close()

	// Repositories
	panelRepo, err := panel.NewRepository(panelDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize panel repository")
	}
	thresholdsRepo, err := thresholds.NewRepository(panelDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize thresholds repository")
	}
	modelStore, err := modelstore.NewStore(modelsDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize model store")
	}

	policy := domain.DefaultPolicy()
	fitter := distribution.NewFitter(policy, cfg.Simulation.Workers, log)

	// Initial engine from whatever is persisted. An empty table and no
	// models is a valid cold start; the API populates both.
	table, err := thresholdsRepo.LoadTable()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load thresholds")
	}
	weights, err := thresholdsRepo.LoadWeights()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load weights")
	}
	models, err := modelStore.LoadAll()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load models")
	}
	log.Info().
		Int("measures", len(table.Measures())).
		Int("models", len(models)).
		Msg("Loaded persisted state")

	engines := simulation.NewHolder(
		simulation.NewEngine(table, weights, models, policy, cfg.Simulation.Workers, log))

	srv := server.New(server.Config{
		Log:            log,
		Cfg:            cfg,
		PanelDB:        panelDB,
		ModelsDB:       modelsDB,
		PanelRepo:      panelRepo,
		ThresholdsRepo: thresholdsRepo,
		ModelStore:     modelStore,
		Fitter:         fitter,
		Engines:        engines,
		Policy:         policy,
	})

	// Background jobs. The refit job swaps the live engine once fresh models
	// are persisted, so simulations pick them up without a restart.
	sched := scheduler.New(log)
	refitJob := scheduler.NewRefitModelsJob(panelRepo, fitter, modelStore,
		func(fitted map[string]*distribution.Model) {
			tbl, err := thresholdsRepo.LoadTable()
			if err != nil {
				log.Error().Err(err).Msg("Failed to reload thresholds after refit")
				return
			}
			wts, err := thresholdsRepo.LoadWeights()
			if err != nil {
				log.Error().Err(err).Msg("Failed to reload weights after refit")
				return
			}
			engines.Swap(simulation.NewEngine(tbl, wts, fitted, policy, cfg.Simulation.Workers, log))
		}, log)
	if err := sched.AddJob(cfg.RefitSchedule, refitJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule model refit")
	}

	var backupJob scheduler.Job
	if cfg.Backup != nil {
		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Bucket:    cfg.Backup.Bucket,
			Region:    cfg.Backup.Region,
			Endpoint:  cfg.Backup.Endpoint,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 client")
		}
		backupService := reliability.NewBackupService(s3Client, cfg.DataDir,
			[]string{cfg.PanelDBPath(), cfg.ModelsDBPath()}, log)
		job := scheduler.NewBackupJob(backupService, log)
		if err := sched.AddJob(cfg.Backup.Schedule, job); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backup")
		}
		backupJob = job
	} else {
		log.Info().Msg("Backups disabled (no S3 bucket configured)")
	}

	srv.SetJobs(sched, refitJob, backupJob)
	sched.Start()

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	sched.Stop()
	log.Info().Msg("Stargazer stopped")
}
