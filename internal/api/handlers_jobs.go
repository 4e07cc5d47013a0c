package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/dgallion1/docforge/internal/artifact"
	"github.com/dgallion1/docforge/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// syncHandler runs a job of the given kind inside the request and
// responds with the saved document.
func (s *Server) syncHandler(kind pipeline.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer removeForm(r)
		req, err := s.parseRequest(w, r, kind)
		if err != nil {
			writeJobError(w, err)
			return
		}

		job := pipeline.NewJob(req)
		if err := s.orchestrator.Run(r.Context(), job); err != nil {
			writeJobError(w, err)
			return
		}
		writeResult(w, job.ID, job.Result())
	}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	defer removeForm(r)
	// parseRequest needs the kind, which is itself a form field. Parsing
	// again there is a no-op.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*8+1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	kind, err := pipeline.ParseKind(r.FormValue("kind"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	req, err := s.parseRequest(w, r, kind)
	if err != nil {
		writeJobError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeJobError(w, err)
		return
	}

	job := pipeline.NewJob(req)
	if err := s.orchestrator.Submit(job); err != nil {
		writeJobError(w, err)
		return
	}
	s.log.Info("job queued", "job_id", job.ID, "kind", kind, "inputs", len(req.Inputs))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"kind":       job.Kind,
		"status":     pipeline.StatusQueued,
		"poll_url":   fmt.Sprintf("/api/jobs/%s/status", job.ID),
		"result_url": fmt.Sprintf("/api/jobs/%s/result", job.ID),
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		s.serveStoredResult(w, r, jobID)
		return
	}
	snap := job.Snapshot()
	switch snap.Status {
	case pipeline.StatusCompleted:
		writeResult(w, job.ID, job.Result())
	case pipeline.StatusFailed:
		writeJobError(w, job.Err())
	default:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "job not finished",
			"status": snap.Status,
			"phase":  snap.Phase,
		})
	}
}

// serveStoredResult answers for a job that has left the job table but
// whose result may still be in the artifact store.
func (s *Server) serveStoredResult(w http.ResponseWriter, r *http.Request, jobID string) {
	store := s.orchestrator.Worker().Store()
	if store == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	data, contentType, err := store.Get(r.Context(), pipeline.ArtifactKey(jobID))
	if errors.Is(err, artifact.ErrNotFound) {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("artifact fetch failed", "job_id", jobID, "error", err)
		jsonError(w, "artifact store unavailable", http.StatusBadGateway)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Job-ID", jobID)
	w.Write(data)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if s.orchestrator.GetJob(jobID) == nil && s.orchestrator.Worker().Store() == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	if err := s.orchestrator.DeleteJob(r.Context(), jobID); err != nil {
		s.log.Error("delete job failed", "job_id", jobID, "error", err)
		jsonError(w, "failed to delete artifact", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func removeForm(r *http.Request) {
	if r.MultipartForm != nil {
		r.MultipartForm.RemoveAll()
	}
}

// writeResult sends a finished document as an attachment. A job report
// travels in the X-Job-Report header as JSON.
func writeResult(w http.ResponseWriter, jobID string, res *pipeline.Result) {
	h := w.Header()
	h.Set("Content-Type", res.ContentType())
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.Filename}))
	h.Set("X-Job-ID", jobID)
	h.Set("X-Checksum", res.Checksum)
	if res.ArtifactKey != "" {
		h.Set("X-Artifact-Key", res.ArtifactKey)
	}
	if res.Report != nil {
		if b, err := json.Marshal(res.Report); err == nil {
			h.Set("X-Job-Report", string(b))
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}
