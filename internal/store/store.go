package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateContact(ctx context.Context, contact *models.Contact) error
	GetContactsMeta(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Contact, error)
	SetContactsEnriching(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, enriching bool) error
	MarkContactEnriched(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, data models.EnrichmentData, at time.Time) error

	CreateJob(ctx context.Context, job *models.EnrichmentJob) error
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.EnrichmentJob, error)
	ListJobsByStatus(ctx context.Context, statuses ...string) ([]*models.EnrichmentJob, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	IncrementJobProgress(ctx context.Context, id uuid.UUID, delta ProgressDelta) error

	UpsertResult(ctx context.Context, result *models.ItemResult) error
	ListResults(ctx context.Context, jobID uuid.UUID) ([]*models.ItemResult, error)
}

// ProgressDelta is merged into the persisted counters with a single UPDATE,
// never a read-modify-write in application code. CurrentBatch advances with
// GREATEST so the column stays non-decreasing under any interleaving.
type ProgressDelta struct {
	Completed    int
	Failed       int
	CurrentBatch int
}

type jobUpdateParams struct {
	ErrorMessage *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}
