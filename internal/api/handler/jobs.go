package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/rbailey/tutorialforge/internal/api/middleware"
	"github.com/rbailey/tutorialforge/internal/api/response"
	"github.com/rbailey/tutorialforge/internal/jobs"
	"github.com/rbailey/tutorialforge/internal/render"
	"github.com/rbailey/tutorialforge/internal/store"
	"github.com/rbailey/tutorialforge/pkg/models"
)

// JobService is the interface the job handlers depend on.
type JobService interface {
	Create(ctx context.Context, owner uuid.UUID, cfg models.JobConfig) (*models.Job, error)
	GetStatus(ctx context.Context, id uuid.UUID, owner uuid.UUID) (*models.Job, error)
	List(ctx context.Context, owner uuid.UUID) ([]*models.Job, error)
	GetArtifact(ctx context.Context, id uuid.UUID, owner uuid.UUID, format string) (*render.Artifact, error)
}

type createJobRequest struct {
	RepoURL         string   `json:"repo_url"`
	LocalDir        string   `json:"local_dir"`
	ProjectName     string   `json:"project_name"`
	GithubToken     string   `json:"github_token"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	MaxFileSize     int      `json:"max_file_size"`
	Language        string   `json:"language"`
	UseCache        *bool    `json:"use_cache"`
	MaxChapters     int      `json:"max_chapters"`
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// Acceptance means queued, not finished: the response carries the job id and
// the client polls the status endpoint for progress.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		cfg := models.JobConfig{
			RepoURL:         req.RepoURL,
			LocalDir:        req.LocalDir,
			ProjectName:     req.ProjectName,
			AccessToken:     req.GithubToken,
			IncludePatterns: req.IncludePatterns,
			ExcludePatterns: req.ExcludePatterns,
			MaxFileSize:     req.MaxFileSize,
			Language:        req.Language,
			UseCache:        req.UseCache == nil || *req.UseCache,
			MaxChapters:     req.MaxChapters,
		}

		job, err := svc.Create(r.Context(), userID, cfg)
		if err != nil {
			switch {
			case errors.Is(err, jobs.ErrInvalidConfig):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Either repo_url or local_dir must be provided", nil)
			case errors.Is(err, jobs.ErrTooBusy):
				response.Error(w, http.StatusServiceUnavailable, "SERVER_BUSY", "All workers are busy, try again later", nil)
			default:
				response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Failed to create job", nil)
			}
			return
		}

		response.Accepted(w, map[string]string{
			"job_id": job.ID.String(),
			"status": job.Status,
		})
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		job, err := svc.GetStatus(r.Context(), jobID, userID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Failed to fetch job", nil)
			return
		}

		response.JSON(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		list, err := svc.List(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Failed to list jobs", nil)
			return
		}
		if list == nil {
			list = []*models.Job{}
		}

		response.JSON(w, list)
	}
}

// NewDownloadArtifactHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/artifact. The format query parameter defaults
// to html, the only format currently supported.
func NewDownloadArtifactHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		format := r.URL.Query().Get("format")
		if format == "" {
			format = "html"
		}

		artifact, err := svc.GetArtifact(r.Context(), jobID, userID, format)
		if err != nil {
			switch {
			case errors.Is(err, jobs.ErrUnsupportedFormat):
				response.Error(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", fmt.Sprintf("Format %q is not supported", format), nil)
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			case errors.Is(err, jobs.ErrNotReady):
				response.Error(w, http.StatusConflict, "JOB_NOT_READY", "Job has not completed yet", nil)
			case errors.Is(err, jobs.ErrNoContent):
				response.Error(w, http.StatusNotFound, "NO_CONTENT", "Job completed without tutorial content", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "RENDER_FAILED", "Failed to render artifact", nil)
			}
			return
		}

		w.Header().Set("Content-Type", artifact.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
		w.WriteHeader(http.StatusOK)
		w.Write(artifact.Data)
	}
}
