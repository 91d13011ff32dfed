package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/internal/store"
	"github.com/outflowhq/outflow/pkg/models"
)

// jobStatusTTL bounds how long a poll can be served from the cache after the
// last write; the database row stays authoritative.
const jobStatusTTL = 30 * time.Minute

// Scheduler drives one job's contact list in fixed-size batches, strictly
// sequentially. The per-item and per-batch delays pace calls to rate-limited
// providers and give polling clients smooth progress; both are configurable
// and may be zero.
type Scheduler struct {
	store      Store
	cache      Cache
	proc       *Processor
	itemDelay  time.Duration
	batchDelay time.Duration
	logger     *slog.Logger
}

func NewScheduler(st Store, ca Cache, proc *Processor, itemDelay, batchDelay time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:      st,
		cache:      ca,
		proc:       proc,
		itemDelay:  itemDelay,
		batchDelay: batchDelay,
		logger:     logger,
	}
}

// PartitionBatches splits ids into contiguous batches of at most size,
// preserving order. The last batch may be short.
func PartitionBatches(ids []uuid.UUID, size int) [][]uuid.UUID {
	if size < 1 || len(ids) == 0 {
		return nil
	}
	batches := make([][]uuid.UUID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

// Run drives a freshly created job to a terminal state. A job whose status
// is no longer pending is not re-driven; calling Run twice is a no-op the
// second time.
func (s *Scheduler) Run(ctx context.Context, jobID, tenantID uuid.UUID) {
	job, err := s.store.GetJob(ctx, jobID, tenantID)
	if err != nil {
		s.logger.Error("load job for run", "job_id", jobID, "error", err)
		return
	}
	if job.Status != models.JobStatusPending {
		s.logger.Info("job already driven, skipping", "job_id", jobID, "status", job.Status)
		return
	}

	if err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusRunning); err != nil {
		s.logger.Error("mark job running", "job_id", jobID, "error", err)
		return
	}
	_ = s.cache.SetJobStatus(ctx, jobID, models.JobStatusRunning, jobStatusTTL)
	job.Status = models.JobStatusRunning

	s.drive(ctx, job, nil)
}

// Resume continues a job that was left running by a previous process.
// Contacts that already have a recorded terminal result are skipped, so the
// job picks up from the first unfinished item.
func (s *Scheduler) Resume(ctx context.Context, jobID, tenantID uuid.UUID) {
	job, err := s.store.GetJob(ctx, jobID, tenantID)
	if err != nil {
		s.logger.Error("load job for resume", "job_id", jobID, "error", err)
		return
	}
	if job.Status != models.JobStatusRunning {
		s.logger.Info("job not resumable", "job_id", jobID, "status", job.Status)
		return
	}

	results, err := s.store.ListResults(ctx, jobID)
	if err != nil {
		s.logger.Error("load results for resume", "job_id", jobID, "error", err)
		return
	}
	done := make(map[uuid.UUID]bool, len(results))
	for _, r := range results {
		if r.Status == models.ResultStatusCompleted || r.Status == models.ResultStatusFailed {
			done[r.ContactID] = true
		}
	}

	s.logger.Info("resuming interrupted job", "job_id", jobID, "done", len(done), "total", job.Progress.Total)
	s.drive(ctx, job, done)
}

// drive is the batch loop. Per-item failures are recorded and never abort
// the loop; only a panic or loss of the job store fails the job as a whole.
func (s *Scheduler) drive(ctx context.Context, job *models.EnrichmentJob, done map[uuid.UUID]bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in enrichment drive", "job_id", job.ID, "error", r)
			s.fail(job, fmt.Sprintf("panic: %v", r))
		}
	}()

	contacts, err := s.store.GetContactsMeta(ctx, job.TenantID, job.ContactIDs)
	if err != nil {
		s.fail(job, fmt.Sprintf("loading contacts: %v", err))
		return
	}
	byID := make(map[uuid.UUID]*models.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}

	batches := PartitionBatches(job.ContactIDs, job.Options.BatchSize)
	for bi, batch := range batches {
		if bi > 0 && !s.pause(ctx, s.batchDelay) {
			return // shutdown; job stays running and resumes on restart
		}

		batchNo := bi + 1
		if err := s.store.IncrementJobProgress(ctx, job.ID, store.ProgressDelta{CurrentBatch: batchNo}); err != nil {
			s.fail(job, fmt.Sprintf("advancing batch counter: %v", err))
			return
		}

		for i, contactID := range batch {
			if i > 0 && !s.pause(ctx, s.itemDelay) {
				return
			}

			// Cancellation is checked before every item so a cancelled job
			// stops at the next item boundary instead of running on.
			stop, cancelled := s.shouldStop(ctx, job)
			if cancelled {
				s.logger.Info("job cancelled, stopping", "job_id", job.ID, "batch", batchNo)
				s.releaseContacts(job)
				return
			}
			if stop {
				return
			}

			if done[contactID] {
				continue
			}

			result := s.processOne(ctx, job, contactID, byID[contactID])

			if err := s.store.UpsertResult(ctx, result); err != nil {
				s.fail(job, fmt.Sprintf("recording result: %v", err))
				return
			}

			delta := store.ProgressDelta{}
			if result.Status == models.ResultStatusCompleted {
				delta.Completed = 1
			} else {
				delta.Failed = 1
			}
			if err := s.store.IncrementJobProgress(ctx, job.ID, delta); err != nil {
				s.fail(job, fmt.Sprintf("advancing progress: %v", err))
				return
			}
		}

		s.logger.Info("batch finished", "job_id", job.ID, "batch", batchNo, "of", len(batches))
	}

	s.releaseContacts(job)
	if err := s.store.UpdateJobStatus(context.Background(), job.ID, models.JobStatusCompleted); err != nil {
		// A cancel that landed after the last boundary check wins the race.
		s.logger.Warn("mark job completed", "job_id", job.ID, "error", err)
		return
	}
	_ = s.cache.SetJobStatus(context.Background(), job.ID, models.JobStatusCompleted, jobStatusTTL)
	s.logger.Info("job completed", "job_id", job.ID, "total", job.Progress.Total)
}

// processOne runs the item processor for one contact, applying the
// enrichment to the contact row on success.
func (s *Scheduler) processOne(ctx context.Context, job *models.EnrichmentJob, contactID uuid.UUID, contact *models.Contact) *models.ItemResult {
	if contact == nil {
		// Row deleted between classification and processing. The result is
		// still keyed by the id that was scheduled so the poller can see
		// which item failed.
		now := time.Now().UTC()
		return &models.ItemResult{
			JobID:     job.ID,
			ContactID: contactID,
			Status:    models.ResultStatusFailed,
			Error: &models.ItemError{
				Kind:      models.ErrorKindInvalidInput,
				Message:   "contact no longer exists",
				Retryable: false,
			},
			ProcessedAt: &now,
		}
	}

	result := s.proc.Process(ctx, job, contact)
	if result.Status == models.ResultStatusCompleted && result.Payload != nil {
		if err := s.store.MarkContactEnriched(ctx, job.TenantID, contact.ID, *result.Payload, *result.ProcessedAt); err != nil {
			s.logger.Warn("apply enrichment to contact", "job_id", job.ID, "contact_id", contact.ID, "error", err)
		}
	}
	return result
}

// shouldStop reports whether the loop must stop, and whether the reason is
// an observed cancellation (as opposed to driver shutdown, which leaves the
// job running for a later resume).
func (s *Scheduler) shouldStop(ctx context.Context, job *models.EnrichmentJob) (stop, cancelled bool) {
	if ctx.Err() != nil {
		return true, false
	}
	// Cancel updates the row before the cache, so a cached cancelled status
	// is already authoritative and saves the database read. Any other cached
	// value still falls through to the row.
	if status, ok, err := s.cache.GetJobStatus(ctx, job.ID); err == nil && ok &&
		status == models.JobStatusCancelled {
		return true, true
	}
	current, err := s.store.GetJob(ctx, job.ID, job.TenantID)
	if err != nil {
		s.logger.Error("poll job status", "job_id", job.ID, "error", err)
		return false, false
	}
	if current.Status == models.JobStatusCancelled {
		return true, true
	}
	return false, false
}

func (s *Scheduler) fail(job *models.EnrichmentJob, msg string) {
	ctx := context.Background()
	s.releaseContacts(job)
	if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage(msg)); err != nil {
		s.logger.Error("mark job failed", "job_id", job.ID, "error", err)
		return
	}
	_ = s.cache.SetJobStatus(ctx, job.ID, models.JobStatusFailed, jobStatusTTL)
	s.logger.Error("job failed", "job_id", job.ID, "reason", msg)
}

// releaseContacts clears the in-flight flag for the job's contact set.
func (s *Scheduler) releaseContacts(job *models.EnrichmentJob) {
	if err := s.store.SetContactsEnriching(context.Background(), job.TenantID, job.ContactIDs, false); err != nil {
		s.logger.Warn("release contacts", "job_id", job.ID, "error", err)
	}
}

// pause sleeps for d unless the context is cancelled first. Returns false
// when the context won.
func (s *Scheduler) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
