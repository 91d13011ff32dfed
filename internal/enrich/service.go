package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/internal/config"
	"github.com/outflowhq/outflow/pkg/models"
)

// Service is the public surface of the enrichment engine: create a job, poll
// its status, cancel it. Creation is synchronous; the batch scheduler is
// dispatched in a background goroutine and nobody waits on it.
type Service struct {
	store  Store
	cache  Cache
	sched  *Scheduler
	cfg    config.EnrichConfig
	logger *slog.Logger
}

func NewService(st Store, ca Cache, sched *Scheduler, cfg config.EnrichConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, cache: ca, sched: sched, cfg: cfg, logger: logger}
}

// CreateJob classifies the requested contacts, persists a pending job over
// the processable set, and dispatches the scheduler. The returned summary
// reports every exclusion bucket even when a job is created.
func (s *Service) CreateJob(ctx context.Context, tenantID uuid.UUID, contactIDs []uuid.UUID, opts models.JobOptions) (*models.EnrichmentJob, models.EligibilitySummary, error) {
	ids := dedupe(contactIDs)

	if opts.BatchSize == 0 {
		opts.BatchSize = s.cfg.DefaultBatchSize
	}
	if opts.BatchSize < 1 {
		return nil, models.EligibilitySummary{}, fmt.Errorf("%w: batch_size must be at least 1", ErrInvalidOptions)
	}
	if opts.TimeoutSecs < 0 {
		return nil, models.EligibilitySummary{}, fmt.Errorf("%w: timeout_secs must not be negative", ErrInvalidOptions)
	}
	if opts.TimeoutSecs == 0 {
		opts.TimeoutSecs = int(s.cfg.DefaultTimeout / time.Second)
	}

	contacts, err := s.store.GetContactsMeta(ctx, tenantID, ids)
	if err != nil {
		return nil, models.EligibilitySummary{}, fmt.Errorf("loading contacts: %w", err)
	}

	elig := Classify(ids, contacts, ClassifyParams{
		ForceRefresh:    opts.ForceRefresh,
		FreshnessWindow: s.cfg.FreshnessWindow,
		Now:             time.Now().UTC(),
	})
	summary := elig.Summary(len(ids))

	if len(elig.Processable) == 0 {
		return nil, summary, &NoEligibleContactsError{Summary: summary}
	}

	now := time.Now().UTC()
	job := &models.EnrichmentJob{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ContactIDs: elig.Processable,
		Options:    opts,
		Status:     models.JobStatusPending,
		Progress:   models.Progress{Total: len(elig.Processable)},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, summary, fmt.Errorf("creating job: %w", err)
	}
	if err := s.store.SetContactsEnriching(ctx, tenantID, job.ContactIDs, true); err != nil {
		s.logger.Warn("flag contacts in flight", "job_id", job.ID, "error", err)
	}
	_ = s.cache.SetJobStatus(ctx, job.ID, models.JobStatusPending, jobStatusTTL)

	go s.sched.Run(context.Background(), job.ID, tenantID)

	s.logger.Info("enrichment job created",
		"job_id", job.ID,
		"tenant_id", tenantID,
		"total", job.Progress.Total,
		"batch_size", opts.BatchSize,
		"force_refresh", opts.ForceRefresh,
	)
	return job, summary, nil
}

// GetJob returns the job with its per-item results attached.
func (s *Service) GetJob(ctx context.Context, id, tenantID uuid.UUID) (*models.EnrichmentJob, error) {
	job, err := s.store.GetJob(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading results: %w", err)
	}
	job.Results = results
	return job, nil
}

// CancelJob marks the job cancelled. The scheduler observes the new status
// at the next item boundary. Cancelling a terminal job is a no-op that
// returns the current record.
func (s *Service) CancelJob(ctx context.Context, id, tenantID uuid.UUID) (*models.EnrichmentJob, error) {
	job, err := s.store.GetJob(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, nil
	}

	if err := s.store.UpdateJobStatus(ctx, id, models.JobStatusCancelled); err != nil {
		// The job may have reached a terminal state between the read and the
		// write; return whatever it settled on.
		current, getErr := s.store.GetJob(ctx, id, tenantID)
		if getErr == nil && current.IsTerminal() {
			return current, nil
		}
		return nil, fmt.Errorf("cancelling job: %w", err)
	}
	_ = s.cache.SetJobStatus(ctx, id, models.JobStatusCancelled, jobStatusTTL)
	if err := s.store.SetContactsEnriching(ctx, tenantID, job.ContactIDs, false); err != nil {
		s.logger.Warn("release contacts on cancel", "job_id", id, "error", err)
	}

	s.logger.Info("enrichment job cancelled", "job_id", id, "tenant_id", tenantID)
	return s.store.GetJob(ctx, id, tenantID)
}

// ResumeInterrupted re-dispatches jobs a previous process left behind:
// running jobs resume from their recorded results, pending jobs that never
// got a driver are started. Called once at startup.
func (s *Service) ResumeInterrupted(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobsByStatus(ctx, models.JobStatusRunning, models.JobStatusPending)
	if err != nil {
		return 0, fmt.Errorf("listing interrupted jobs: %w", err)
	}

	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusRunning:
			go s.sched.Resume(context.Background(), job.ID, job.TenantID)
		case models.JobStatusPending:
			go s.sched.Run(context.Background(), job.ID, job.TenantID)
		}
	}
	if len(jobs) > 0 {
		s.logger.Info("re-dispatched interrupted jobs", "count", len(jobs))
	}
	return len(jobs), nil
}

// dedupe removes duplicate ids preserving first-occurrence order.
func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
