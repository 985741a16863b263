// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 11:20:13 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// UI Page routes (HTML templates)
	mux.HandleFunc("/", s.app.PageHandler.ServePage("index.html", "home"))

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.app.JobHandler.SubmitJobHandler)               // POST - start a job
	mux.HandleFunc("/api/jobs/current", s.app.JobHandler.CurrentJobHandler)      // GET - current snapshot
	mux.HandleFunc("/api/jobs/current/summary", s.app.JobHandler.SummaryHandler) // GET - HTML or PDF summary

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
