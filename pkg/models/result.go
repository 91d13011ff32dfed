package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ResultStatusPending   = "pending"
	ResultStatusRunning   = "running"
	ResultStatusCompleted = "completed"
	ResultStatusFailed    = "failed"
)

// Error kinds recorded on a failed item. Provider and network failures are
// retryable; malformed input is not.
const (
	ErrorKindTransientProvider = "transient_provider_error"
	ErrorKindInvalidInput      = "invalid_input"
	ErrorKindUnexpected        = "unexpected_exception"
)

// ItemError is the typed failure recorded for a single contact.
type ItemError struct {
	Kind      string `db:"error_kind"    json:"kind"`
	Message   string `db:"error_message" json:"message"`
	Retryable bool   `db:"retryable"     json:"retryable"`
}

// ItemResult is the per-contact outcome of an enrichment job. At most one
// row exists per (job, contact); re-processing upserts rather than appends.
type ItemResult struct {
	JobID       uuid.UUID       `db:"job_id"       json:"job_id"`
	ContactID   uuid.UUID       `db:"contact_id"   json:"contact_id"`
	Status      string          `db:"status"       json:"status"`
	Payload     *EnrichmentData `db:"payload"      json:"payload,omitempty"`
	Error       *ItemError      `db:"-"            json:"error,omitempty"`
	ProcessedAt *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}
