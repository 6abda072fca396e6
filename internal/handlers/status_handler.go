package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// StatusHandler handles queue stats, health, and version requests.
type StatusHandler struct {
	queue      interfaces.QueueManager
	jobStorage interfaces.JobStorage
	startTime  time.Time
	logger     arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(queue interfaces.QueueManager, jobStorage interfaces.JobStorage, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		queue:      queue,
		jobStorage: jobStorage,
		startTime:  time.Now(),
		logger:     logger,
	}
}

// QueueStatsHandler handles GET /api/queue/stats
func (h *StatusHandler) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read queue stats")
		WriteError(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// HealthHandler handles GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobCount, err := h.jobStorage.CountJobs(r.Context())
	healthy := err == nil
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		h.logger.Warn().Err(err).Msg("Health check storage probe failed")
	}

	WriteJSON(w, code, map[string]interface{}{
		"status":         status,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		"job_count":      jobCount,
	})
}

// VersionHandler handles GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.Version,
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}
