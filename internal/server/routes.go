package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Import
	mux.HandleFunc("/api/import/trigger", s.app.ImportHandler.TriggerAllHandler)
	mux.HandleFunc("/api/import/trigger/source", s.app.ImportHandler.TriggerSourceHandler)

	// API routes - History
	mux.HandleFunc("/api/history", s.handleHistoryRoute)   // GET (list), DELETE (clear all)
	mux.HandleFunc("/api/history/", s.handleHistoryRoutes) // DELETE /{id}

	// API routes - Queue
	mux.HandleFunc("/api/queue/stats", s.app.StatusHandler.QueueStatsHandler)

	// API routes - System
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)

	return mux
}

// handleHistoryRoute routes /api/history requests
func (s *Server) handleHistoryRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.HistoryHandler.ListHandler(w, r)
	case "DELETE":
		s.app.HistoryHandler.DeleteAllHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHistoryRoutes routes /api/history/{id} requests
func (s *Server) handleHistoryRoutes(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/api/history/")
	runID = strings.TrimSuffix(runID, "/")

	switch r.Method {
	case "DELETE":
		s.app.HistoryHandler.DeleteHandler(w, r, runID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
