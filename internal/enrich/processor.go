package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/outflowhq/outflow/internal/cache"
	"github.com/outflowhq/outflow/pkg/models"
)

// Processor executes one unit of work: pick the strategy matching the
// contact's available data source, invoke the provider under the job's
// per-item timeout, and report a typed result. It never returns an error;
// failures are classified into the result so the batch loop keeps going.
type Processor struct {
	provider models.EnrichmentProvider
	cache    Cache
	cacheTTL time.Duration
}

// NewProcessor creates a Processor. cache may be nil to disable the provider
// lookup cache.
func NewProcessor(provider models.EnrichmentProvider, ca Cache, cacheTTL time.Duration) *Processor {
	return &Processor{provider: provider, cache: ca, cacheTTL: cacheTTL}
}

// Process enriches a single contact for the given job.
func (p *Processor) Process(ctx context.Context, job *models.EnrichmentJob, contact *models.Contact) *models.ItemResult {
	result := &models.ItemResult{
		JobID:     job.ID,
		ContactID: contact.ID,
	}

	req := models.EnrichmentRequest{
		ContactID: contact.ID,
		TenantID:  job.TenantID,
	}

	var lookup func(context.Context, models.EnrichmentRequest) (models.EnrichmentData, error)
	var source string
	switch {
	case contact.HasPrimarySource():
		req.Email = *contact.Email
		source = *contact.Email
		lookup = p.provider.EnrichByEmail
	case contact.HasSecondarySource():
		req.ProfileURL = *contact.LinkedInURL
		source = *contact.LinkedInURL
		lookup = p.provider.EnrichByProfile
	default:
		// The classifier excludes sourceless contacts; this is a guard for
		// rows mutated between classification and processing.
		return p.fail(result, models.ItemError{
			Kind:      models.ErrorKindInvalidInput,
			Message:   "contact has no usable data source",
			Retryable: false,
		})
	}

	if data, ok := p.cachedLookup(ctx, source); ok {
		return p.succeed(result, data)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, job.Options.Timeout())
	defer cancel()

	data, err := lookup(lookupCtx, req)
	if err != nil {
		return p.fail(result, classifyItemError(err))
	}

	p.storeLookup(ctx, source, data)
	return p.succeed(result, data)
}

func (p *Processor) succeed(result *models.ItemResult, data models.EnrichmentData) *models.ItemResult {
	now := time.Now().UTC()
	result.Status = models.ResultStatusCompleted
	result.Payload = &data
	result.ProcessedAt = &now
	return result
}

func (p *Processor) fail(result *models.ItemResult, itemErr models.ItemError) *models.ItemResult {
	now := time.Now().UTC()
	result.Status = models.ResultStatusFailed
	result.Error = &itemErr
	result.ProcessedAt = &now
	return result
}

func (p *Processor) cachedLookup(ctx context.Context, source string) (models.EnrichmentData, bool) {
	if p.cache == nil {
		return models.EnrichmentData{}, false
	}
	raw, ok, err := p.cache.Get(ctx, cache.EnrichmentKey(p.provider.Name(), source))
	if err != nil || !ok {
		return models.EnrichmentData{}, false
	}
	var data models.EnrichmentData
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.EnrichmentData{}, false
	}
	return data, true
}

func (p *Processor) storeLookup(ctx context.Context, source string, data models.EnrichmentData) {
	if p.cache == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = p.cache.Set(ctx, cache.EnrichmentKey(p.provider.Name(), source), raw, p.cacheTTL)
}

// classifyItemError maps a provider failure onto the recorded error kind.
// Provider and network failures are retryable; rejected input is not.
func classifyItemError(err error) models.ItemError {
	switch {
	case errors.Is(err, models.ErrProviderUnavailable),
		errors.Is(err, models.ErrProviderRateLimited),
		errors.Is(err, models.ErrLookupTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return models.ItemError{
			Kind:      models.ErrorKindTransientProvider,
			Message:   err.Error(),
			Retryable: true,
		}
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrNoMatch):
		return models.ItemError{
			Kind:      models.ErrorKindInvalidInput,
			Message:   err.Error(),
			Retryable: false,
		}
	default:
		return models.ItemError{
			Kind:      models.ErrorKindUnexpected,
			Message:   err.Error(),
			Retryable: false,
		}
	}
}
