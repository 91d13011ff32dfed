package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/internal/api/middleware"
	"github.com/outflowhq/outflow/internal/api/response"
	"github.com/outflowhq/outflow/internal/enrich"
	"github.com/outflowhq/outflow/pkg/models"
)

const maxContactsPerJob = 1000

// EnrichHandler accepts bulk enrichment requests and hands them to the
// enrichment service.
type EnrichHandler struct {
	service *enrich.Service
}

func NewEnrichHandler(service *enrich.Service) *EnrichHandler {
	return &EnrichHandler{service: service}
}

type createJobRequest struct {
	ContactIDs []uuid.UUID       `json:"contact_ids"`
	Options    models.JobOptions `json:"options"`
}

type createJobResponse struct {
	JobID   uuid.UUID                 `json:"job_id"`
	Status  string                    `json:"status"`
	Summary models.EligibilitySummary `json:"summary"`
}

// Create handles POST /api/v1/enrich. It validates the request, classifies
// the contacts, and returns 201 with a job id the client can poll.
func (h *EnrichHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing tenant context", nil)
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}

	if len(req.ContactIDs) == 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "contact_ids must not be empty", nil)
		return
	}
	if len(req.ContactIDs) > maxContactsPerJob {
		response.Error(w, http.StatusBadRequest, "TOO_MANY_CONTACTS",
			"A single job accepts at most 1000 contacts", nil)
		return
	}

	job, summary, err := h.service.CreateJob(r.Context(), tenantID, req.ContactIDs, req.Options)
	if err != nil {
		var noEligible *enrich.NoEligibleContactsError
		switch {
		case errors.As(err, &noEligible):
			response.Error(w, http.StatusBadRequest, "NO_ELIGIBLE_CONTACTS",
				"None of the requested contacts are eligible for enrichment", noEligible.Summary)
		case errors.Is(err, enrich.ErrInvalidOptions):
			response.Error(w, http.StatusUnprocessableEntity, "INVALID_OPTIONS", err.Error(), nil)
		default:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create enrichment job", nil)
		}
		return
	}

	response.Created(w, createJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Summary: summary,
	})
}
