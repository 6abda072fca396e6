package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// HistoryHandler handles import run history API requests.
type HistoryHandler struct {
	runStorage interfaces.ImportRunStorage
	queue      interfaces.QueueManager
	logger     arbor.ILogger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(runStorage interfaces.ImportRunStorage, queue interfaces.QueueManager, logger arbor.ILogger) *HistoryHandler {
	return &HistoryHandler{
		runStorage: runStorage,
		queue:      queue,
		logger:     logger,
	}
}

// ListHandler returns a page of import runs, newest first.
// GET /api/history?page=1&limit=20
func (h *HistoryHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	page, limit := GetPaginationParams(r)

	result, err := h.runStorage.ListRuns(r.Context(), page, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list import runs")
		WriteError(w, http.StatusInternalServerError, "Failed to list import runs")
		return
	}

	pages := 0
	if limit > 0 {
		pages = (result.Total + limit - 1) / limit
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data": result.Runs,
		"pagination": map[string]int{
			"total": result.Total,
			"page":  page,
			"limit": limit,
			"pages": pages,
		},
	})
}

// DeleteHandler removes one import run and drops its pending queue batches so
// orphaned work never resurrects the deleted record.
// DELETE /api/history/{id}
func (h *HistoryHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, runID string) {
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Missing run ID")
		return
	}

	run, err := h.runStorage.GetRun(r.Context(), runID)
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to load import run")
		WriteError(w, http.StatusInternalServerError, "Failed to load import run")
		return
	}
	if run == nil {
		WriteError(w, http.StatusNotFound, "Import run not found")
		return
	}

	removed, err := h.queue.RemoveByRunID(r.Context(), runID)
	if err != nil {
		h.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to remove queued batches for run")
	}

	if err := h.runStorage.DeleteRun(r.Context(), runID); err != nil {
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to delete import run")
		WriteError(w, http.StatusInternalServerError, "Failed to delete import run")
		return
	}

	h.logger.Info().
		Str("run_id", runID).
		Int("batches_removed", removed).
		Msg("Import run deleted")

	WriteSuccess(w, "Import run deleted")
}

// DeleteAllHandler removes every import run and drains the queue.
// DELETE /api/history
func (h *HistoryHandler) DeleteAllHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.DrainAll(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to drain queue")
	}

	deleted, err := h.runStorage.DeleteAllRuns(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to delete import history")
		WriteError(w, http.StatusInternalServerError, "Failed to delete import history")
		return
	}

	h.logger.Info().Int("deleted", deleted).Msg("Import history cleared")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"deleted": deleted,
	})
}
