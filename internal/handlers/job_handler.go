package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/artifacts"
	"github.com/ternarybob/scrapetrack/internal/models"
	"github.com/ternarybob/scrapetrack/internal/presenter"
	"github.com/ternarybob/scrapetrack/internal/session"
)

// JobRunner starts jobs and exposes the current one
type JobRunner interface {
	Submit(ctx context.Context, target string) (string, error)
	Current() models.Snapshot
}

// JobHandler serves the browser-facing job API
type JobHandler struct {
	jobs     JobRunner
	resolver *artifacts.Resolver
	logger   arbor.ILogger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobs JobRunner, resolver *artifacts.Resolver, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:     jobs,
		resolver: resolver,
		logger:   logger,
	}
}

// SubmitJobRequest is the body of POST /api/jobs
type SubmitJobRequest struct {
	URL string `json:"url"`
}

// JobView is a snapshot with artifact locators resolved for the browser
type JobView struct {
	models.Snapshot
	ScreenshotURLs []artifacts.Screenshot `json:"screenshot_urls,omitempty"`
	ReportURL      string                 `json:"report_url,omitempty"`
}

// NewJobView resolves a snapshot's artifact locators
func NewJobView(snap models.Snapshot, resolver *artifacts.Resolver) JobView {
	view := JobView{Snapshot: snap}
	if resolver == nil {
		return view
	}
	if len(snap.Screenshots) > 0 {
		view.ScreenshotURLs = resolver.Screenshots(snap.Screenshots)
	}
	if snap.HasReport() {
		if reportURL, err := resolver.ReportURL(snap.ReportHandle); err == nil {
			view.ReportURL = reportURL
		}
	}
	return view
}

// SubmitJobHandler handles POST /api/jobs
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req SubmitJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	jobID, err := h.jobs.Submit(r.Context(), req.URL)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidTarget):
			WriteError(w, http.StatusBadRequest, "Please enter a valid URL.")
		case errors.Is(err, session.ErrClosed):
			WriteError(w, http.StatusServiceUnavailable, "Server is shutting down")
		default:
			h.logger.Error().Err(err).Msg("Failed to submit job")
			WriteError(w, http.StatusInternalServerError, "Failed to start job")
		}
		return
	}

	WriteStarted(w, jobID)
}

// CurrentJobHandler handles GET /api/jobs/current
func (h *JobHandler) CurrentJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, NewJobView(h.jobs.Current(), h.resolver))
}

// SummaryHandler handles GET /api/jobs/current/summary, as HTML or with ?format=pdf
func (h *JobHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	snap := h.jobs.Current()
	if snap.Phase == models.PhaseIdle {
		WriteError(w, http.StatusNotFound, "No job has been started")
		return
	}

	if r.URL.Query().Get("format") == "pdf" {
		data, err := presenter.PDF(snap, h.resolver, h.logger)
		if err != nil {
			h.logger.Error().Err(err).Str("job_id", snap.JobID).Msg("Failed to render summary PDF")
			WriteError(w, http.StatusInternalServerError, "Failed to render summary")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="`+snap.JobID+`.pdf"`)
		w.Write(data)
		return
	}

	doc, err := presenter.HTML(snap, h.resolver)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", snap.JobID).Msg("Failed to render summary")
		WriteError(w, http.StatusInternalServerError, "Failed to render summary")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(doc)
}
