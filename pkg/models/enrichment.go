package models

import (
	"context"

	"github.com/google/uuid"
)

// EnrichmentProvider is the core interface that all enrichment integrations
// must implement. Never call specific providers directly — always inject
// this interface.
type EnrichmentProvider interface {
	// EnrichByEmail looks a contact up by business email (primary source).
	EnrichByEmail(ctx context.Context, req EnrichmentRequest) (EnrichmentData, error)
	// EnrichByProfile looks a contact up by LinkedIn profile URL
	// (secondary, lower-confidence source).
	EnrichByProfile(ctx context.Context, req EnrichmentRequest) (EnrichmentData, error)
	// Name returns the provider identifier (e.g., "apollo", "proxycurl").
	Name() string
}

// EnrichmentRequest is the input to a single enrichment lookup.
type EnrichmentRequest struct {
	ContactID  uuid.UUID
	TenantID   uuid.UUID
	Email      string
	ProfileURL string
}

// EnrichmentData is the payload a provider returns for a contact.
type EnrichmentData struct {
	FullName   string            `json:"full_name,omitempty"`
	Company    string            `json:"company,omitempty"`
	Title      string            `json:"title,omitempty"`
	Location   string            `json:"location,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
