package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// JobOptions are fixed at job creation and immutable thereafter.
type JobOptions struct {
	ForceRefresh bool `db:"force_refresh" json:"force_refresh"`
	BatchSize    int  `db:"batch_size"    json:"batch_size"`
	TimeoutSecs  int  `db:"timeout_secs"  json:"timeout_secs"`
}

// Timeout returns the per-item provider timeout as a duration.
func (o JobOptions) Timeout() time.Duration {
	return time.Duration(o.TimeoutSecs) * time.Second
}

// Progress holds the durable counters a polling client renders.
// Total is fixed at creation; Completed+Failed never exceeds it.
type Progress struct {
	Total        int `db:"total"         json:"total"`
	Completed    int `db:"completed"     json:"completed"`
	Failed       int `db:"failed"        json:"failed"`
	CurrentBatch int `db:"current_batch" json:"current_batch"`
}

// Percentage calculates progress as a percentage (0-100).
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed+p.Failed) / float64(p.Total) * 100
}

// EnrichmentJob tracks one bulk enrichment request. The API returns a job id
// on POST /api/v1/enrich; the client polls GET /api/v1/enrich/jobs/{job_id}
// until the status is terminal.
type EnrichmentJob struct {
	ID           uuid.UUID     `db:"id"            json:"id"`
	TenantID     uuid.UUID     `db:"tenant_id"     json:"tenant_id"`
	ContactIDs   []uuid.UUID   `db:"contact_ids"   json:"contact_ids"`
	Options      JobOptions    `db:"-"             json:"options"`
	Status       string        `db:"status"        json:"status"`
	Progress     Progress      `db:"-"             json:"progress"`
	ErrorMessage *string       `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time    `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time    `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"    json:"updated_at"`
	Results      []*ItemResult `db:"-"             json:"results,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state.
func (j *EnrichmentJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// BatchCount returns the number of batches the job's contact set splits into.
func (j *EnrichmentJob) BatchCount() int {
	if j.Options.BatchSize <= 0 {
		return 0
	}
	return (len(j.ContactIDs) + j.Options.BatchSize - 1) / j.Options.BatchSize
}

// EligibilitySummary reports, per bucket, how the requested contact set was
// classified at creation time. Returned to the caller so "nothing to do" is
// distinguishable from "partial work scheduled".
type EligibilitySummary struct {
	TotalRequested    int `json:"total_requested"`
	Eligible          int `json:"eligible"`
	SecondaryEligible int `json:"secondary_eligible"`
	AlreadyEnriched   int `json:"already_enriched"`
	NoSources         int `json:"no_sources"`
	InFlight          int `json:"in_flight"`
}
