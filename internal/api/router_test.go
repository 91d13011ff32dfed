package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/internal/api"
	"github.com/outflowhq/outflow/internal/cache"
	"github.com/outflowhq/outflow/internal/config"
	"github.com/outflowhq/outflow/internal/enrich"
	"github.com/outflowhq/outflow/internal/provider/mock"
	"github.com/outflowhq/outflow/internal/store"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- in-memory store ---

type memStore struct {
	mu       sync.Mutex
	tenantID uuid.UUID
	keys     []*models.APIKey
	contacts map[uuid.UUID]*models.Contact
	jobs     map[uuid.UUID]*models.EnrichmentJob
	results  map[uuid.UUID]map[uuid.UUID]*models.ItemResult
	pingErr  error
}

func newMemStore() *memStore {
	return &memStore{
		tenantID: uuid.New(),
		contacts: make(map[uuid.UUID]*models.Contact),
		jobs:     make(map[uuid.UUID]*models.EnrichmentJob),
		results:  make(map[uuid.UUID]map[uuid.UUID]*models.ItemResult),
	}
}

func (m *memStore) Ping(_ context.Context) error { return m.pingErr }
func (m *memStore) GetDefaultTenant(_ context.Context) (*models.Tenant, error) {
	return &models.Tenant{ID: m.tenantID, Name: "default"}, nil
}

func (m *memStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (m *memStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return nil
}

func (m *memStore) ListAPIKeys(_ context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.TenantID == tenantID && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) RevokeAPIKey(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id && k.TenantID == tenantID && k.DeletedAt == nil {
			now := time.Now().UTC()
			k.DeletedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) CreateContact(_ context.Context, c *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.ID] = c
	return nil
}

func (m *memStore) GetContactsMeta(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Contact
	for _, id := range ids {
		if c, ok := m.contacts[id]; ok && c.TenantID == tenantID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) SetContactsEnriching(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID, enriching bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if c, ok := m.contacts[id]; ok && c.TenantID == tenantID {
			c.Enriching = enriching
		}
	}
	return nil
}

func (m *memStore) MarkContactEnriched(_ context.Context, tenantID uuid.UUID, id uuid.UUID, data models.EnrichmentData, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID {
		return store.ErrNotFound
	}
	c.EnrichedAt = &at
	return nil
}

func (m *memStore) CreateJob(_ context.Context, job *models.EnrichmentJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.EnrichmentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) ListJobsByStatus(_ context.Context, statuses ...string) ([]*models.EnrichmentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool)
	for _, s := range statuses {
		want[s] = true
	}
	var out []*models.EnrichmentJob
	for _, j := range m.jobs {
		if want[j.Status] {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

var memTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusCancelled},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
}

func (m *memStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, _ ...store.JobUpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, next := range memTransitions[j.Status] {
		if next == status {
			j.Status = status
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, j.Status, status)
}

func (m *memStore) IncrementJobProgress(_ context.Context, id uuid.UUID, delta store.ProgressDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
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

func (m *memStore) UpsertResult(_ context.Context, r *models.ItemResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results[r.JobID] == nil {
		m.results[r.JobID] = make(map[uuid.UUID]*models.ItemResult)
	}
	cp := *r
	m.results[r.JobID][r.ContactID] = &cp
	return nil
}

func (m *memStore) ListResults(_ context.Context, jobID uuid.UUID) ([]*models.ItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ItemResult
	for _, r := range m.results[jobID] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

var _ store.Store = (*memStore)(nil)

// --- in-memory cache ---

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	jobs    map[uuid.UUID]string
	counter int64
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte), jobs: make(map[uuid.UUID]string)}
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memCache) Ping(_ context.Context) error { return nil }

func (c *memCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[jobID] = status
	return nil
}

func (c *memCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.jobs[jobID]
	return s, ok, nil
}

func (c *memCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return c.counter, nil
}

var _ cache.Cache = (*memCache)(nil)

// --- test env ---

const testRawKey = "of_0123456789abcdef0123456789abcdef"

type testEnv struct {
	router http.Handler
	store  *memStore
}

func newTestEnv(t *testing.T, scopes ...string) *testEnv {
	t.Helper()
	st := newMemStore()
	ca := newMemCache()

	hash, err := bcrypt.GenerateFromPassword([]byte(testRawKey), bcrypt.MinCost)
	require.NoError(t, err)
	st.keys = append(st.keys, &models.APIKey{
		ID:        uuid.New(),
		TenantID:  st.tenantID,
		Name:      "test",
		KeyHash:   string(hash),
		KeyPrefix: testRawKey[:8],
		Scopes:    scopes,
	})

	cfg := config.EnrichConfig{
		Provider:         "mock",
		DefaultBatchSize: 3,
		DefaultTimeout:   30 * time.Second,
		FreshnessWindow:  24 * time.Hour,
	}
	proc := enrich.NewProcessor(mock.NewProvider(), nil, time.Hour)
	sched := enrich.NewScheduler(st, ca, proc, 0, 0, nil)
	svc := enrich.NewService(st, ca, sched, cfg, nil)

	router := api.NewRouter(api.Dependencies{
		Store:         st,
		Cache:         ca,
		EnrichService: svc,
	})
	return &testEnv{router: router, store: st}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testRawKey)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedContact(email string) uuid.UUID {
	id := uuid.New()
	e.store.contacts[id] = &models.Contact{ID: id, TenantID: e.store.tenantID, Email: &email}
	return id
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data envelope: %s", w.Body.String())
	return data
}

// --- tests ---

func TestRouter_HealthIsPublic(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_HealthReportsDegradedDatabase(t *testing.T) {
	env := newTestEnv(t)
	env.store.pingErr = fmt.Errorf("connection refused")

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "UNHEALTHY", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "unreachable", details["database"])
	assert.Equal(t, "ok", details["cache"])
}

func TestRouter_ProtectedEndpointsRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/enrich"},
		{"GET", "/api/v1/enrich/jobs/" + uuid.NewString()},
		{"POST", "/api/v1/enrich/jobs/" + uuid.NewString() + "/cancel"},
		{"POST", "/api/v1/admin/keys"},
		{"GET", "/api/v1/admin/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRouter_AdminScopeEnforced(t *testing.T) {
	env := newTestEnv(t, "read", "write")

	w := env.do("GET", "/api/v1/admin/keys", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEnrichFlow_CreatePollCancel(t *testing.T) {
	env := newTestEnv(t, "read", "write")

	a := env.seedContact("a@example.com")
	b := env.seedContact("b@example.com")

	w := env.do("POST", "/api/v1/enrich", map[string]any{
		"contact_ids": []string{a.String(), b.String()},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	data := decodeData(t, w)
	jobID := data["job_id"].(string)
	require.NotEmpty(t, jobID)
	summary := data["summary"].(map[string]any)
	assert.Equal(t, float64(2), summary["eligible"])

	// Poll until the background scheduler finishes.
	require.Eventually(t, func() bool {
		w := env.do("GET", "/api/v1/enrich/jobs/"+jobID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		return decodeData(t, w)["status"] == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	w = env.do("GET", "/api/v1/enrich/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeData(t, w)
	progress := data["progress"].(map[string]any)
	assert.Equal(t, float64(2), progress["completed"])
	assert.Equal(t, float64(100), data["percentage"])
	assert.Len(t, data["results"].([]any), 2)

	// Cancelling a completed job is a no-op.
	w = env.do("POST", "/api/v1/enrich/jobs/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.JobStatusCompleted, decodeData(t, w)["status"])
}

func TestEnrich_NoEligibleContacts(t *testing.T) {
	env := newTestEnv(t, "read", "write")
	id := uuid.New()
	env.store.contacts[id] = &models.Contact{ID: id, TenantID: env.store.tenantID}

	w := env.do("POST", "/api/v1/enrich", map[string]any{
		"contact_ids": []string{id.String()},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "NO_ELIGIBLE_CONTACTS", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, float64(1), details["no_sources"])
}

func TestEnrich_EmptyContactList(t *testing.T) {
	env := newTestEnv(t, "read", "write")

	w := env.do("POST", "/api/v1/enrich", map[string]any{"contact_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrich_InvalidOptions(t *testing.T) {
	env := newTestEnv(t, "read", "write")
	a := env.seedContact("a@example.com")

	w := env.do("POST", "/api/v1/enrich", map[string]any{
		"contact_ids": []string{a.String()},
		"options":     map[string]any{"batch_size": -1},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestJob_NotFound(t *testing.T) {
	env := newTestEnv(t, "read", "write")

	w := env.do("GET", "/api/v1/enrich/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJob_InvalidID(t *testing.T) {
	env := newTestEnv(t, "read", "write")

	w := env.do("GET", "/api/v1/enrich/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminKeys_CreateListRevoke(t *testing.T) {
	env := newTestEnv(t, "admin")

	w := env.do("POST", "/api/v1/admin/keys", map[string]any{
		"name":   "ci-key",
		"scopes": []string{"read"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	data := decodeData(t, w)
	rawKey := data["key"].(string)
	assert.Contains(t, rawKey, "of_")
	keyID := data["id"].(string)

	w = env.do("GET", "/api/v1/admin/keys", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do("DELETE", "/api/v1/admin/keys/"+keyID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Revoking twice reports not found.
	w = env.do("DELETE", "/api/v1/admin/keys/"+keyID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminKeys_UnknownScopeRejected(t *testing.T) {
	env := newTestEnv(t, "admin")

	w := env.do("POST", "/api/v1/admin/keys", map[string]any{
		"name":   "bad",
		"scopes": []string{"superuser"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
