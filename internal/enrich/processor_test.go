package enrich_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/internal/cache"
	"github.com/outflowhq/outflow/internal/enrich"
	"github.com/outflowhq/outflow/internal/provider/mock"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob() *models.EnrichmentJob {
	return &models.EnrichmentJob{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Options:  models.JobOptions{BatchSize: 3, TimeoutSecs: 5},
	}
}

func TestProcess_EmailLookupSucceeds(t *testing.T) {
	prov := mock.NewProvider()
	proc := enrich.NewProcessor(prov, nil, time.Hour)
	job := testJob()
	contact := &models.Contact{ID: uuid.New(), Email: strptr("jamie@example.com")}

	result := proc.Process(context.Background(), job, contact)

	require.Equal(t, models.ResultStatusCompleted, result.Status)
	require.NotNil(t, result.Payload)
	assert.Equal(t, "Jamie Example", result.Payload.FullName)
	assert.NotNil(t, result.ProcessedAt)
	assert.Equal(t, 1, prov.EmailCalls)
	assert.Equal(t, 0, prov.ProfileCalls)
}

func TestProcess_ProfileFallbackWhenNoEmail(t *testing.T) {
	prov := mock.NewProvider()
	proc := enrich.NewProcessor(prov, nil, time.Hour)
	contact := &models.Contact{ID: uuid.New(), LinkedInURL: strptr("https://linkedin.com/in/jamie")}

	result := proc.Process(context.Background(), testJob(), contact)

	require.Equal(t, models.ResultStatusCompleted, result.Status)
	assert.Equal(t, 0, prov.EmailCalls)
	assert.Equal(t, 1, prov.ProfileCalls)
}

func TestProcess_EmailPreferredOverProfile(t *testing.T) {
	prov := mock.NewProvider()
	proc := enrich.NewProcessor(prov, nil, time.Hour)
	contact := &models.Contact{
		ID:          uuid.New(),
		Email:       strptr("jamie@example.com"),
		LinkedInURL: strptr("https://linkedin.com/in/jamie"),
	}

	result := proc.Process(context.Background(), testJob(), contact)

	require.Equal(t, models.ResultStatusCompleted, result.Status)
	assert.Equal(t, 1, prov.EmailCalls)
	assert.Equal(t, 0, prov.ProfileCalls)
}

func TestProcess_SourcelessContactFails(t *testing.T) {
	proc := enrich.NewProcessor(mock.NewProvider(), nil, time.Hour)
	contact := &models.Contact{ID: uuid.New()}

	result := proc.Process(context.Background(), testJob(), contact)

	require.Equal(t, models.ResultStatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorKindInvalidInput, result.Error.Kind)
	assert.False(t, result.Error.Retryable)
}

func TestProcess_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  string
		retryable bool
	}{
		{"provider unavailable", models.ErrProviderUnavailable, models.ErrorKindTransientProvider, true},
		{"rate limited", models.ErrProviderRateLimited, models.ErrorKindTransientProvider, true},
		{"lookup timeout", models.ErrLookupTimeout, models.ErrorKindTransientProvider, true},
		{"deadline exceeded", context.DeadlineExceeded, models.ErrorKindTransientProvider, true},
		{"invalid input", models.ErrInvalidInput, models.ErrorKindInvalidInput, false},
		{"no match", models.ErrNoMatch, models.ErrorKindInvalidInput, false},
		{"unexpected", errors.New("connection reset by peer"), models.ErrorKindUnexpected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := enrich.NewProcessor(mock.NewFailingProvider(tt.err), nil, time.Hour)
			contact := &models.Contact{ID: uuid.New(), Email: strptr("jamie@example.com")}

			result := proc.Process(context.Background(), testJob(), contact)

			require.Equal(t, models.ResultStatusFailed, result.Status)
			require.NotNil(t, result.Error)
			assert.Equal(t, tt.wantKind, result.Error.Kind)
			assert.Equal(t, tt.retryable, result.Error.Retryable)
			assert.Nil(t, result.Payload)
		})
	}
}

func TestProcess_CacheHitSkipsProvider(t *testing.T) {
	prov := mock.NewProvider()
	ca := newFakeCache()

	cached := models.EnrichmentData{FullName: "Cached Person", Company: "Cache Inc"}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	key := cache.EnrichmentKey("mock", "jamie@example.com")
	require.NoError(t, ca.Set(context.Background(), key, raw, time.Hour))

	proc := enrich.NewProcessor(prov, ca, time.Hour)
	contact := &models.Contact{ID: uuid.New(), Email: strptr("jamie@example.com")}

	result := proc.Process(context.Background(), testJob(), contact)

	require.Equal(t, models.ResultStatusCompleted, result.Status)
	assert.Equal(t, "Cached Person", result.Payload.FullName)
	assert.Equal(t, 0, prov.EmailCalls)
}

func TestProcess_SuccessPopulatesCache(t *testing.T) {
	prov := mock.NewProvider()
	ca := newFakeCache()
	proc := enrich.NewProcessor(prov, ca, time.Hour)
	contact := &models.Contact{ID: uuid.New(), Email: strptr("jamie@example.com")}

	result := proc.Process(context.Background(), testJob(), contact)
	require.Equal(t, models.ResultStatusCompleted, result.Status)

	raw, ok, err := ca.Get(context.Background(), cache.EnrichmentKey("mock", "jamie@example.com"))
	require.NoError(t, err)
	require.True(t, ok)

	var data models.EnrichmentData
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, "Jamie Example", data.FullName)
}

func TestProcess_CacheKeyIsCaseInsensitiveOnSource(t *testing.T) {
	assert.Equal(t,
		cache.EnrichmentKey("mock", "Jamie@Example.com"),
		cache.EnrichmentKey("mock", "jamie@example.com"),
	)
}
