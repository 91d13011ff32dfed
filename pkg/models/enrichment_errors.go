package models

import "errors"

// Sentinel errors every EnrichmentProvider implementation returns for the
// failure classes the orchestrator distinguishes. The item processor maps
// these onto recorded error kinds and the retryable flag; anything else a
// provider returns is treated as unexpected.
var (
	ErrProviderUnavailable = errors.New("enrichment provider unavailable")
	ErrProviderRateLimited = errors.New("enrichment provider rate limited")
	ErrLookupTimeout       = errors.New("enrichment lookup timeout")
	ErrInvalidInput        = errors.New("enrichment input rejected by provider")
	ErrNoMatch             = errors.New("no enrichment match found")
)
