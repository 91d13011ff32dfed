package enrich

import (
	"time"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/pkg/models"
)

// ClassifyParams configure one classification pass.
type ClassifyParams struct {
	ForceRefresh    bool
	FreshnessWindow time.Duration
	Now             time.Time
}

// Eligibility is the five-way partition of a requested contact set.
// Processable holds the eligible and secondary-eligible ids merged back into
// the original request order; it is the job's item list.
type Eligibility struct {
	Eligible          []uuid.UUID
	SecondaryEligible []uuid.UUID
	AlreadyEnriched   []uuid.UUID
	NoSources         []uuid.UUID
	InFlight          []uuid.UUID
	Processable       []uuid.UUID
}

// Summary reduces the partition to the per-bucket counts returned to the caller.
func (e Eligibility) Summary(totalRequested int) models.EligibilitySummary {
	return models.EligibilitySummary{
		TotalRequested:    totalRequested,
		Eligible:          len(e.Eligible),
		SecondaryEligible: len(e.SecondaryEligible),
		AlreadyEnriched:   len(e.AlreadyEnriched),
		NoSources:         len(e.NoSources),
		InFlight:          len(e.InFlight),
	}
}

// Classify partitions the requested ids by data-source availability,
// freshness, and in-flight state. Pure function over the fetched contact
// rows; requested must already be deduplicated. Ids with no matching contact
// row count as having no sources. A contact is fresh only when enriched_at
// is non-null and strictly within the window; force_refresh ignores
// freshness but never admits contacts without sources or in flight.
func Classify(requested []uuid.UUID, contacts []*models.Contact, p ClassifyParams) Eligibility {
	byID := make(map[uuid.UUID]*models.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}

	var e Eligibility
	for _, id := range requested {
		c, ok := byID[id]
		if !ok {
			e.NoSources = append(e.NoSources, id)
			continue
		}
		if c.Enriching {
			e.InFlight = append(e.InFlight, id)
			continue
		}
		if !c.HasPrimarySource() && !c.HasSecondarySource() {
			e.NoSources = append(e.NoSources, id)
			continue
		}
		if !p.ForceRefresh && c.EnrichedAt != nil && p.Now.Sub(*c.EnrichedAt) < p.FreshnessWindow {
			e.AlreadyEnriched = append(e.AlreadyEnriched, id)
			continue
		}
		if c.HasPrimarySource() {
			e.Eligible = append(e.Eligible, id)
		} else {
			e.SecondaryEligible = append(e.SecondaryEligible, id)
		}
		e.Processable = append(e.Processable, id)
	}
	return e
}
