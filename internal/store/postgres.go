package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outflowhq/outflow/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, plan, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.Plan, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Contacts ---

func (s *PostgresStore) CreateContact(ctx context.Context, contact *models.Contact) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contacts (id, tenant_id, email, linkedin_url, full_name, company, title, enriched_at, enriching, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		contact.ID, contact.TenantID, contact.Email, contact.LinkedInURL, contact.FullName,
		contact.Company, contact.Title, contact.EnrichedAt, contact.Enriching,
		contact.CreatedAt, contact.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

// GetContactsMeta returns the enrichment-relevant fields for the given ids.
// Ids that do not exist under the tenant are simply absent from the result.
func (s *PostgresStore) GetContactsMeta(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Contact, error) {
	if len(ids) == 0 {
		return []*models.Contact{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, email, linkedin_url, full_name, company, title, enriched_at, enriching, created_at, updated_at
		 FROM contacts WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("get contacts meta: %w", err)
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Email, &c.LinkedInURL, &c.FullName,
			&c.Company, &c.Title, &c.EnrichedAt, &c.Enriching, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}

func (s *PostgresStore) SetContactsEnriching(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, enriching bool) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE contacts SET enriching = $3, updated_at = NOW()
		 WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, ids, enriching)
	if err != nil {
		return fmt.Errorf("set contacts enriching: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkContactEnriched(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, data models.EnrichmentData, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts SET
		   full_name = COALESCE(NULLIF($3, ''), full_name),
		   company   = COALESCE(NULLIF($4, ''), company),
		   title     = COALESCE(NULLIF($5, ''), title),
		   enriched_at = $6,
		   updated_at = NOW()
		 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, data.FullName, data.Company, data.Title, at)
	if err != nil {
		return fmt.Errorf("mark contact enriched: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Enrichment Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.EnrichmentJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_jobs (id, tenant_id, contact_ids, force_refresh, batch_size, timeout_secs, status, total, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.TenantID, job.ContactIDs, job.Options.ForceRefresh, job.Options.BatchSize,
		job.Options.TimeoutSecs, job.Status, job.Progress.Total, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create enrichment job: %w", err)
	}
	return nil
}

const jobColumns = `id, tenant_id, contact_ids, force_refresh, batch_size, timeout_secs,
 status, total, completed, failed, current_batch, error_message, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.EnrichmentJob, error) {
	var j models.EnrichmentJob
	err := row.Scan(&j.ID, &j.TenantID, &j.ContactIDs, &j.Options.ForceRefresh,
		&j.Options.BatchSize, &j.Options.TimeoutSecs, &j.Status,
		&j.Progress.Total, &j.Progress.Completed, &j.Progress.Failed, &j.Progress.CurrentBatch,
		&j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.EnrichmentJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM enrichment_jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrichment job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, statuses ...string) ([]*models.EnrichmentJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM enrichment_jobs WHERE status = ANY($1) ORDER BY created_at`, statuses)
	if err != nil {
		return nil, fmt.Errorf("list enrichment jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.EnrichmentJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrichment job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// validTransitions encodes the job state machine. Terminal states have no
// outgoing edges; a job is driven forward exactly once.
var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusCancelled},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM enrichment_jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	valid := false
	for _, a := range validTransitions[currentStatus] {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE enrichment_jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed || status == models.JobStatusCancelled {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}

	// Guard the WHERE on the status read above so two racing writers cannot
	// both apply a transition out of the same state.
	query += fmt.Sprintf(" WHERE id = $1 AND status = $%d", argIdx)
	args = append(args, currentStatus)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: concurrent update from %s", ErrInvalidTransition, currentStatus)
	}
	return nil
}

// IncrementJobProgress merges a delta into the persisted counters in a
// single statement, so concurrent status polls never observe torn state.
func (s *PostgresStore) IncrementJobProgress(ctx context.Context, id uuid.UUID, delta ProgressDelta) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET
		   completed = completed + $2,
		   failed = failed + $3,
		   current_batch = GREATEST(current_batch, $4),
		   updated_at = NOW()
		 WHERE id = $1`,
		id, delta.Completed, delta.Failed, delta.CurrentBatch)
	if err != nil {
		return fmt.Errorf("increment job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Enrichment Results ---

func (s *PostgresStore) UpsertResult(ctx context.Context, result *models.ItemResult) error {
	var kind, msg *string
	var retryable *bool
	if result.Error != nil {
		kind = &result.Error.Kind
		msg = &result.Error.Message
		retryable = &result.Error.Retryable
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_results (job_id, contact_id, status, payload, error_kind, error_message, retryable, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (job_id, contact_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   payload = EXCLUDED.payload,
		   error_kind = EXCLUDED.error_kind,
		   error_message = EXCLUDED.error_message,
		   retryable = EXCLUDED.retryable,
		   processed_at = EXCLUDED.processed_at`,
		result.JobID, result.ContactID, result.Status, result.Payload,
		kind, msg, retryable, result.ProcessedAt)
	if err != nil {
		return fmt.Errorf("upsert enrichment result: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListResults(ctx context.Context, jobID uuid.UUID) ([]*models.ItemResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, contact_id, status, payload, error_kind, error_message, retryable, processed_at
		 FROM enrichment_results WHERE job_id = $1 ORDER BY processed_at NULLS LAST`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list enrichment results: %w", err)
	}
	defer rows.Close()

	var results []*models.ItemResult
	for rows.Next() {
		var r models.ItemResult
		var kind, msg *string
		var retryable *bool
		if err := rows.Scan(&r.JobID, &r.ContactID, &r.Status, &r.Payload,
			&kind, &msg, &retryable, &r.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan enrichment result: %w", err)
		}
		if kind != nil {
			r.Error = &models.ItemError{Kind: *kind}
			if msg != nil {
				r.Error.Message = *msg
			}
			if retryable != nil {
				r.Error.Retryable = *retryable
			}
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
