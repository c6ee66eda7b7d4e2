package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/voxdoc/internal/jobs"
)

type JobsHandler struct {
	mgr *jobs.Manager
}

func NewJobsHandler(mgr *jobs.Manager) *JobsHandler {
	return &JobsHandler{mgr: mgr}
}

// Routes registers job routes on the given router.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/jobs/{id}/document", h.GetDocument)
}

func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": h.mgr.List()})
}

func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.mgr.Get(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// GetDocument serves the finished Markdown document directly.
func (h *JobsHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	job, ok := h.mgr.Get(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != jobs.StatusCompleted || job.Result == nil {
		WriteError(w, http.StatusConflict, "job has not completed")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(job.Result.FinalDocument))
}
