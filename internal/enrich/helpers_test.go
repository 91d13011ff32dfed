package enrich_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/internal/store"
	"github.com/outflowhq/outflow/pkg/models"
)

// fakeStore is an in-memory Store for driving the scheduler and service in
// tests. It mirrors the real store's transition rules so the terminal-state
// races behave the same way.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.EnrichmentJob
	contacts map[uuid.UUID]*models.Contact
	results  map[uuid.UUID]map[uuid.UUID]*models.ItemResult

	// afterResult runs inside UpsertResult, after the result is recorded.
	// Tests use it to flip job state mid-run.
	afterResult func(s *fakeStore, result *models.ItemResult)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     make(map[uuid.UUID]*models.EnrichmentJob),
		contacts: make(map[uuid.UUID]*models.Contact),
		results:  make(map[uuid.UUID]map[uuid.UUID]*models.ItemResult),
	}
}

func (s *fakeStore) addContact(c *models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
}

func (s *fakeStore) removeContact(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, id)
}

func (s *fakeStore) addJob(j *models.EnrichmentJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
}

func (s *fakeStore) jobStatus(id uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.Status
	}
	return ""
}

func (s *fakeStore) jobProgress(id uuid.UUID) models.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.Progress
	}
	return models.Progress{}
}

func (s *fakeStore) setJobStatus(id uuid.UUID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = status
	}
}

func (s *fakeStore) contactEnriching(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contacts[id]; ok {
		return c.Enriching
	}
	return false
}

func (s *fakeStore) GetContactsMeta(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Contact
	for _, id := range ids {
		if c, ok := s.contacts[id]; ok && c.TenantID == tenantID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) SetContactsEnriching(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID, enriching bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if c, ok := s.contacts[id]; ok && c.TenantID == tenantID {
			c.Enriching = enriching
		}
	}
	return nil
}

func (s *fakeStore) MarkContactEnriched(_ context.Context, tenantID uuid.UUID, id uuid.UUID, data models.EnrichmentData, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return store.ErrNotFound
	}
	c.EnrichedAt = &at
	if data.FullName != "" {
		c.FullName = &data.FullName
	}
	if data.Company != "" {
		c.Company = &data.Company
	}
	return nil
}

func (s *fakeStore) CreateJob(_ context.Context, job *models.EnrichmentJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.EnrichmentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) ListJobsByStatus(_ context.Context, statuses ...string) ([]*models.EnrichmentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*models.EnrichmentJob
	for _, j := range s.jobs {
		if want[j.Status] {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

var fakeTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusCancelled},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
}

func (s *fakeStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	allowed := false
	for _, next := range fakeTransitions[j.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, j.Status, status)
	}
	now := time.Now().UTC()
	j.Status = status
	switch status {
	case models.JobStatusRunning:
		j.StartedAt = &now
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		j.CompletedAt = &now
	}
	return nil
}

func (s *fakeStore) IncrementJobProgress(_ context.Context, id uuid.UUID, delta store.ProgressDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Progress.Completed += delta.Completed
	j.Progress.Failed += delta.Failed
	if delta.CurrentBatch > j.Progress.CurrentBatch {
		j.Progress.CurrentBatch = delta.CurrentBatch
	}
	return nil
}

func (s *fakeStore) UpsertResult(_ context.Context, result *models.ItemResult) error {
	s.mu.Lock()
	if s.results[result.JobID] == nil {
		s.results[result.JobID] = make(map[uuid.UUID]*models.ItemResult)
	}
	cp := *result
	s.results[result.JobID][result.ContactID] = &cp
	hook := s.afterResult
	s.mu.Unlock()

	if hook != nil {
		hook(s, result)
	}
	return nil
}

func (s *fakeStore) ListResults(_ context.Context, jobID uuid.UUID) ([]*models.ItemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ItemResult
	for _, r := range s.results[jobID] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// fakeCache is an in-memory Cache.
type fakeCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	jobStatuses map[uuid.UUID]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries:     make(map[string][]byte),
		jobStatuses: make(map[uuid.UUID]string),
	}
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *fakeCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobStatuses[jobID] = status
	return nil
}

func (c *fakeCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.jobStatuses[jobID]
	return st, ok, nil
}

func storeProgress(completed, failed, currentBatch int) store.ProgressDelta {
	return store.ProgressDelta{Completed: completed, Failed: failed, CurrentBatch: currentBatch}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strptr(s string) *string { return &s }
