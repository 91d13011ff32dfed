package enrich

import (
	"errors"
	"fmt"

	"github.com/outflowhq/outflow/pkg/models"
)

// ErrInvalidOptions is returned when job options fail validation.
var ErrInvalidOptions = errors.New("invalid job options")

// NoEligibleContactsError is returned by CreateJob when classification
// leaves nothing to process. The summary tells the caller why each contact
// was excluded.
type NoEligibleContactsError struct {
	Summary models.EligibilitySummary
}

func (e *NoEligibleContactsError) Error() string {
	return fmt.Sprintf("no eligible contacts: %d requested, %d already enriched, %d without sources, %d in flight",
		e.Summary.TotalRequested, e.Summary.AlreadyEnriched, e.Summary.NoSources, e.Summary.InFlight)
}
