package server

import (
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/stargazer/internal/database"
	"github.com/aristath/stargazer/internal/scheduler"
)

// SystemHandlers serves liveness and host telemetry endpoints, plus manual
// job triggering.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	panelDB     *database.DB
	modelsDB    *database.DB

	sched     *scheduler.Scheduler
	refitJob  scheduler.Job
	backupJob scheduler.Job
}

// NewSystemHandlers creates system handlers.
func NewSystemHandlers(log zerolog.Logger, dataDir string, panelDB, modelsDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		panelDB:     panelDB,
		modelsDB:    modelsDB,
	}
}

// SetJobs registers jobs for manual triggering (set after the scheduler is
// wired in main).
func (h *SystemHandlers) SetJobs(sched *scheduler.Scheduler, refit, backup scheduler.Job) {
	h.sched = sched
	h.refitJob = refit
	h.backupJob = backup
}

// HandleHealth reports liveness and database reachability.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	databases := map[string]string{}
	for _, db := range []*database.DB{h.panelDB, h.modelsDB} {
		if db == nil {
			continue
		}
		if err := db.Conn().PingContext(r.Context()); err != nil {
			databases[db.Name()] = err.Error()
			status = "degraded"
		} else {
			databases[db.Name()] = "ok"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(h.log, w, code, map[string]interface{}{
		"status":    status,
		"service":   "stargazer",
		"databases": databases,
		"uptime_s":  int(time.Since(h.startupTime).Seconds()),
	})
}

// HandleSystem reports host CPU/memory usage and process stats.
func (h *SystemHandlers) HandleSystem(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"uptime_s":   int(time.Since(h.startupTime).Seconds()),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		response["cpu_percent"] = percents[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		response["memory"] = map[string]interface{}{
			"total_mb":     vm.Total / 1024 / 1024,
			"used_mb":      vm.Used / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	} else {
		h.log.Warn().Err(err).Msg("Failed to read memory usage")
	}

	databases := map[string]interface{}{}
	for _, db := range []*database.DB{h.panelDB, h.modelsDB} {
		if db == nil {
			continue
		}
		size := int64(0)
		if info, err := os.Stat(db.Path()); err == nil {
			size = info.Size()
		}
		databases[db.Name()] = map[string]interface{}{
			"path":       db.Path(),
			"size_bytes": size,
		}
	}
	response["databases"] = databases

	writeJSON(h.log, w, http.StatusOK, response)
}

// HandleRunJob triggers a scheduled job by name, outside its schedule.
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	if h.sched == nil {
		writeError(h.log, w, http.StatusServiceUnavailable, errors.New("scheduler not available"))
		return
	}

	var job scheduler.Job
	switch name := chi.URLParam(r, "name"); name {
	case "refit_models":
		job = h.refitJob
	case "backup":
		job = h.backupJob
	default:
		writeError(h.log, w, http.StatusNotFound, errors.New("unknown job: "+name))
		return
	}
	if job == nil {
		writeError(h.log, w, http.StatusServiceUnavailable, errors.New("job not configured"))
		return
	}

	if err := h.sched.RunNow(job); err != nil {
		writeError(h.log, w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]string{"status": "completed", "job": job.Name()})
}
