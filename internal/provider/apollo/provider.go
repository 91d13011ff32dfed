// Package apollo implements contact enrichment against the Apollo.io
// people-match API.
package apollo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/outflowhq/outflow/internal/config"
	"github.com/outflowhq/outflow/pkg/models"
)

const matchPath = "/api/v1/people/match"

// Provider implements models.EnrichmentProvider using Apollo.io.
type Provider struct {
	cfg    config.ApolloConfig
	client *http.Client
}

func NewProvider(cfg config.ApolloConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string { return "apollo" }

func (p *Provider) EnrichByEmail(ctx context.Context, req models.EnrichmentRequest) (models.EnrichmentData, error) {
	if req.Email == "" {
		return models.EnrichmentData{}, fmt.Errorf("%w: email is required", models.ErrInvalidInput)
	}
	return p.match(ctx, matchRequest{Email: req.Email})
}

func (p *Provider) EnrichByProfile(ctx context.Context, req models.EnrichmentRequest) (models.EnrichmentData, error) {
	if req.ProfileURL == "" {
		return models.EnrichmentData{}, fmt.Errorf("%w: profile URL is required", models.ErrInvalidInput)
	}
	return p.match(ctx, matchRequest{LinkedInURL: req.ProfileURL})
}

type matchRequest struct {
	Email       string `json:"email,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
}

type matchResponse struct {
	Person struct {
		Name         string `json:"name"`
		Title        string `json:"title"`
		City         string `json:"city"`
		Country      string `json:"country"`
		Organization struct {
			Name string `json:"name"`
		} `json:"organization"`
		Seniority string `json:"seniority"`
	} `json:"person"`
}

func (p *Provider) match(ctx context.Context, body matchRequest) (models.EnrichmentData, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return models.EnrichmentData{}, fmt.Errorf("encoding match request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+matchPath, strings.NewReader(string(payload)))
	if err != nil {
		return models.EnrichmentData{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.EnrichmentData{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return models.EnrichmentData{}, models.ErrNoMatch
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.EnrichmentData{}, models.ErrProviderRateLimited
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return models.EnrichmentData{}, fmt.Errorf("%w: status %d", models.ErrInvalidInput, resp.StatusCode)
	case resp.StatusCode >= 500:
		return models.EnrichmentData{}, fmt.Errorf("%w: status %d", models.ErrProviderUnavailable, resp.StatusCode)
	default:
		return models.EnrichmentData{}, fmt.Errorf("apollo match: unexpected status %d", resp.StatusCode)
	}

	var matched matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&matched); err != nil {
		return models.EnrichmentData{}, fmt.Errorf("decoding apollo response: %w", err)
	}
	if matched.Person.Name == "" {
		return models.EnrichmentData{}, models.ErrNoMatch
	}

	data := models.EnrichmentData{
		FullName:   matched.Person.Name,
		Company:    matched.Person.Organization.Name,
		Title:      matched.Person.Title,
		Location:   joinLocation(matched.Person.City, matched.Person.Country),
		Confidence: 0.9,
	}
	if matched.Person.Seniority != "" {
		data.Attributes = map[string]string{"seniority": matched.Person.Seniority}
	}
	return data, nil
}

func joinLocation(city, country string) string {
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	default:
		return country
	}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrLookupTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrLookupTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
}

var _ models.EnrichmentProvider = (*Provider)(nil)
