// Package mock provides an EnrichmentProvider for tests and local development.
package mock

import (
	"context"

	"github.com/outflowhq/outflow/pkg/models"
)

// MockProvider satisfies models.EnrichmentProvider for testing.
type MockProvider struct {
	Name_         string
	ByEmailFunc   func(ctx context.Context, req models.EnrichmentRequest) (models.EnrichmentData, error)
	ByProfileFunc func(ctx context.Context, req models.EnrichmentRequest) (models.EnrichmentData, error)
	EmailCalls    int
	ProfileCalls  int
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) EnrichByEmail(ctx context.Context, req models.EnrichmentRequest) (models.EnrichmentData, error) {
	m.EmailCalls++
	if m.ByEmailFunc != nil {
		return m.ByEmailFunc(ctx, req)
	}
	return models.EnrichmentData{}, nil
}

func (m *MockProvider) EnrichByProfile(ctx context.Context, req models.EnrichmentRequest) (models.EnrichmentData, error) {
	m.ProfileCalls++
	if m.ByProfileFunc != nil {
		return m.ByProfileFunc(ctx, req)
	}
	return models.EnrichmentData{}, nil
}

// NewProvider returns a MockProvider with sensible default responses.
func NewProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		ByEmailFunc: func(_ context.Context, req models.EnrichmentRequest) (models.EnrichmentData, error) {
			return models.EnrichmentData{
				FullName:   "Jamie Example",
				Company:    "Example Corp",
				Title:      "Head of Placeholders",
				Location:   "Springfield",
				Confidence: 0.95,
				Attributes: map[string]string{"source": "email:" + req.Email},
			}, nil
		},
		ByProfileFunc: func(_ context.Context, req models.EnrichmentRequest) (models.EnrichmentData, error) {
			return models.EnrichmentData{
				FullName:   "Jamie Example",
				Company:    "Example Corp",
				Title:      "Head of Placeholders",
				Confidence: 0.6,
				Attributes: map[string]string{"source": "profile:" + req.ProfileURL},
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		ByEmailFunc: func(_ context.Context, _ models.EnrichmentRequest) (models.EnrichmentData, error) {
			return models.EnrichmentData{}, err
		},
		ByProfileFunc: func(_ context.Context, _ models.EnrichmentRequest) (models.EnrichmentData, error) {
			return models.EnrichmentData{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		ByEmailFunc: func(ctx context.Context, _ models.EnrichmentRequest) (models.EnrichmentData, error) {
			<-ctx.Done()
			return models.EnrichmentData{}, models.ErrLookupTimeout
		},
		ByProfileFunc: func(ctx context.Context, _ models.EnrichmentRequest) (models.EnrichmentData, error) {
			<-ctx.Done()
			return models.EnrichmentData{}, models.ErrLookupTimeout
		},
	}
}

// Compile-time check that MockProvider implements EnrichmentProvider.
var _ models.EnrichmentProvider = (*MockProvider)(nil)
