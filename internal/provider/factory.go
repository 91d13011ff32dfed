package provider

import (
	"fmt"

	"github.com/outflowhq/outflow/internal/config"
	"github.com/outflowhq/outflow/internal/provider/apollo"
	"github.com/outflowhq/outflow/internal/provider/mock"
	"github.com/outflowhq/outflow/internal/provider/proxycurl"
	"github.com/outflowhq/outflow/pkg/models"
)

// NewProvider constructs the appropriate enrichment provider based on config.
// Called once at server startup.
func NewProvider(cfg config.EnrichConfig) (models.EnrichmentProvider, error) {
	switch cfg.Provider {
	case "apollo":
		return apollo.NewProvider(cfg.Apollo), nil
	case "proxycurl":
		return proxycurl.NewProvider(cfg.Proxycurl), nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown enrichment provider %q: must be one of apollo, proxycurl, mock", cfg.Provider)
	}
}
