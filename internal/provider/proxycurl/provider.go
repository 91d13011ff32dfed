// Package proxycurl implements contact enrichment against the Proxycurl
// LinkedIn profile API.
package proxycurl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/outflowhq/outflow/internal/config"
	"github.com/outflowhq/outflow/pkg/models"
)

// Provider implements models.EnrichmentProvider using Proxycurl. Profile
// lookups are native; email lookups go through the reverse-lookup endpoint
// first and then resolve the returned profile.
type Provider struct {
	cfg    config.ProxycurlConfig
	client *http.Client
}

func NewProvider(cfg config.ProxycurlConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string { return "proxycurl" }

func (p *Provider) EnrichByProfile(ctx context.Context, req models.EnrichmentRequest) (models.EnrichmentData, error) {
	if req.ProfileURL == "" {
		return models.EnrichmentData{}, fmt.Errorf("%w: profile URL is required", models.ErrInvalidInput)
	}
	return p.fetchProfile(ctx, req.ProfileURL)
}

func (p *Provider) EnrichByEmail(ctx context.Context, req models.EnrichmentRequest) (models.EnrichmentData, error) {
	if req.Email == "" {
		return models.EnrichmentData{}, fmt.Errorf("%w: email is required", models.ErrInvalidInput)
	}

	u := fmt.Sprintf("%s/api/linkedin/profile/resolve/email?work_email=%s",
		p.cfg.BaseURL, url.QueryEscape(req.Email))

	var resolved struct {
		URL string `json:"url"`
	}
	if err := p.getJSON(ctx, u, &resolved); err != nil {
		return models.EnrichmentData{}, err
	}
	if resolved.URL == "" {
		return models.EnrichmentData{}, models.ErrNoMatch
	}
	return p.fetchProfile(ctx, resolved.URL)
}

type profileResponse struct {
	FullName   string `json:"full_name"`
	Occupation string `json:"occupation"`
	City       string `json:"city"`
	Country    string `json:"country_full_name"`
	Headline   string `json:"headline"`
	Experience []struct {
		Company string `json:"company"`
		Title   string `json:"title"`
	} `json:"experiences"`
}

func (p *Provider) fetchProfile(ctx context.Context, profileURL string) (models.EnrichmentData, error) {
	u := fmt.Sprintf("%s/api/v2/linkedin?url=%s", p.cfg.BaseURL, url.QueryEscape(profileURL))

	var profile profileResponse
	if err := p.getJSON(ctx, u, &profile); err != nil {
		return models.EnrichmentData{}, err
	}
	if profile.FullName == "" {
		return models.EnrichmentData{}, models.ErrNoMatch
	}

	data := models.EnrichmentData{
		FullName:   profile.FullName,
		Title:      profile.Occupation,
		Location:   joinLocation(profile.City, profile.Country),
		Confidence: 0.7,
	}
	if len(profile.Experience) > 0 {
		data.Company = profile.Experience[0].Company
		if data.Title == "" {
			data.Title = profile.Experience[0].Title
		}
	}
	if profile.Headline != "" {
		data.Attributes = map[string]string{"headline": profile.Headline}
	}
	return data, nil
}

func (p *Provider) getJSON(ctx context.Context, u string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return models.ErrNoMatch
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.ErrProviderRateLimited
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: status %d", models.ErrInvalidInput, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", models.ErrProviderUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("proxycurl: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding proxycurl response: %w", err)
	}
	return nil
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
