package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"mediamirror/services/jobs"
	syncsvc "mediamirror/services/sync"
)

// SyncHandler exposes the sync operations and their job tracking
type SyncHandler struct {
	syncService *syncsvc.Service
	tracker     *jobs.Service
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(syncService *syncsvc.Service, tracker *jobs.Service) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		tracker:     tracker,
	}
}

func (h *SyncHandler) startResponse(w http.ResponseWriter, jobID string, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, syncsvc.ErrSyncInProgress) {
			status = http.StatusConflict
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobId": jobID,
	})
}

// StartLibrarySync kicks off a catalog sync job
// POST /api/sync/library
func (h *SyncHandler) StartLibrarySync(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.syncService.StartLibrarySync(r.Context())
	h.startResponse(w, jobID, err)
}

// StartEnrichment kicks off an enrichment job
// POST /api/sync/enrichment
func (h *SyncHandler) StartEnrichment(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.syncService.StartEnrichment(r.Context())
	h.startResponse(w, jobID, err)
}

// StartWatchHistorySync kicks off a watch history job. ?full=true
// refetches everything and prunes entries the server dropped.
// POST /api/sync/watch-history
func (h *SyncHandler) StartWatchHistorySync(w http.ResponseWriter, r *http.Request) {
	fullParam := r.URL.Query().Get("full")
	full := fullParam == "true" || fullParam == "1"
	jobID, err := h.syncService.StartWatchHistorySync(r.Context(), full)
	h.startResponse(w, jobID, err)
}

// ListJobs returns all tracked jobs
// GET /api/jobs
func (h *SyncHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobs": h.tracker.List(),
	})
}

// GetJob returns one job's progress snapshot
// GET /api/jobs/{jobID}
func (h *SyncHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]

	job, err := h.tracker.Get(jobID)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Job not found",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// CancelJob requests cooperative cancellation of a running job. The
// job stops at the next batch boundary.
// POST /api/jobs/{jobID}/cancel
func (h *SyncHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]

	if err := h.tracker.RequestCancel(jobID); err != nil {
		w.Header().Set("Content-Type", "application/json")
		status := http.StatusNotFound
		if !errors.Is(err, jobs.ErrJobNotFound) {
			status = http.StatusConflict
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
	})
}
