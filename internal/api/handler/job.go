package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/outflowhq/outflow/internal/api/middleware"
	"github.com/outflowhq/outflow/internal/api/response"
	"github.com/outflowhq/outflow/internal/enrich"
	"github.com/outflowhq/outflow/internal/store"
	"github.com/outflowhq/outflow/pkg/models"
)

// JobHandler serves job status polling and cancellation.
type JobHandler struct {
	service *enrich.Service
}

func NewJobHandler(service *enrich.Service) *JobHandler {
	return &JobHandler{service: service}
}

type jobStatusResponse struct {
	ID           uuid.UUID            `json:"id"`
	Status       string               `json:"status"`
	Progress     models.Progress      `json:"progress"`
	Percentage   float64              `json:"percentage"`
	Options      models.JobOptions    `json:"options"`
	ErrorMessage *string              `json:"error_message,omitempty"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	Results      []*models.ItemResult `json:"results,omitempty"`
}

// Get handles GET /api/v1/enrich/jobs/{jobID}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing tenant context", nil)
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
		return
	}

	job, err := h.service.GetJob(r.Context(), jobID, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
		return
	}

	response.JSON(w, toJobStatus(job))
}

// Cancel handles POST /api/v1/enrich/jobs/{jobID}/cancel. Cancelling a job
// that already reached a terminal state returns the current record unchanged.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing tenant context", nil)
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
		return
	}

	job, err := h.service.CancelJob(r.Context(), jobID, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to cancel job", nil)
		return
	}

	response.JSON(w, toJobStatus(job))
}

func toJobStatus(job *models.EnrichmentJob) jobStatusResponse {
	return jobStatusResponse{
		ID:           job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		Percentage:   job.Progress.Percentage(),
		Options:      job.Options,
		ErrorMessage: job.ErrorMessage,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		Results:      job.Results,
	}
}
