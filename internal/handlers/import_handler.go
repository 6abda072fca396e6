package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/importer"
)

// ImportHandler handles import trigger API requests.
type ImportHandler struct {
	orchestrator *importer.Orchestrator
	logger       arbor.ILogger
}

// NewImportHandler creates a new import handler.
func NewImportHandler(orchestrator *importer.Orchestrator, logger arbor.ILogger) *ImportHandler {
	return &ImportHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// TriggerAllHandler starts imports for every configured source.
// POST /api/import/trigger
func (h *ImportHandler) TriggerAllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	h.logger.Info().Msg("Manual import trigger requested for all sources")

	summary := h.orchestrator.TriggerAll(r.Context())
	WriteJSON(w, http.StatusAccepted, summary)
}

// TriggerSourceHandler starts an import for a single source URL.
// POST /api/import/trigger/source?url=...
func (h *ImportHandler) TriggerSourceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	sourceURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if sourceURL == "" {
		WriteError(w, http.StatusBadRequest, "Missing required query parameter: url")
		return
	}

	h.logger.Info().
		Str("source_url", sourceURL).
		Msg("Manual import trigger requested")

	result := h.orchestrator.TriggerSource(r.Context(), sourceURL)
	if !result.Started {
		// Guard refused: a run for this source is already in flight.
		WriteJSON(w, http.StatusConflict, result)
		return
	}
	WriteJSON(w, http.StatusAccepted, result)
}
