// Package enrich implements the bulk contact-enrichment job engine: a
// synchronous controller that classifies and persists jobs, and a background
// scheduler that drives them batch by batch against an enrichment provider.
package enrich

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/internal/store"
	"github.com/outflowhq/outflow/pkg/models"
)

// Store is the slice of the data layer the enrichment engine depends on.
// Satisfied by store.PostgresStore.
type Store interface {
	GetContactsMeta(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Contact, error)
	SetContactsEnriching(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, enriching bool) error
	MarkContactEnriched(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, data models.EnrichmentData, at time.Time) error

	CreateJob(ctx context.Context, job *models.EnrichmentJob) error
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.EnrichmentJob, error)
	ListJobsByStatus(ctx context.Context, statuses ...string) ([]*models.EnrichmentJob, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error
	IncrementJobProgress(ctx context.Context, id uuid.UUID, delta store.ProgressDelta) error

	UpsertResult(ctx context.Context, result *models.ItemResult) error
	ListResults(ctx context.Context, jobID uuid.UUID) ([]*models.ItemResult, error)
}

// Cache is the slice of the cache layer the engine depends on.
// Satisfied by cache.RedisCache.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error)
}
