package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/common"
)

// HealthChecker probes the remote scraping service
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

type APIHandler struct {
	logger  arbor.ILogger
	service HealthChecker
}

func NewAPIHandler(service HealthChecker, logger arbor.ILogger) *APIHandler {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &APIHandler{
		logger:  logger,
		service: service,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler reports this server's health and whether the scraping service answers
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	response := map[string]string{
		"status":  "ok",
		"service": "unknown",
	}
	if h.service != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.service.CheckHealth(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Scraping service health check failed")
			response["status"] = "degraded"
			response["service"] = "unreachable"
		} else {
			response["service"] = "ok"
		}
	}

	WriteJSON(w, http.StatusOK, response)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
