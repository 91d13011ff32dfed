package models

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a prospect in a tenant's address book. Only the fields the
// enrichment engine reads and writes are modeled here; campaign and CRM
// fields live elsewhere.
type Contact struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	TenantID    uuid.UUID  `db:"tenant_id"    json:"tenant_id"`
	Email       *string    `db:"email"        json:"email,omitempty"`
	LinkedInURL *string    `db:"linkedin_url" json:"linkedin_url,omitempty"`
	FullName    *string    `db:"full_name"    json:"full_name,omitempty"`
	Company     *string    `db:"company"      json:"company,omitempty"`
	Title       *string    `db:"title"        json:"title,omitempty"`
	EnrichedAt  *time.Time `db:"enriched_at"  json:"enriched_at,omitempty"`
	Enriching   bool       `db:"enriching"    json:"enriching"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}

// HasPrimarySource reports whether the contact can be enriched by email.
func (c *Contact) HasPrimarySource() bool {
	return c.Email != nil && *c.Email != ""
}

// HasSecondarySource reports whether the contact can be enriched by
// LinkedIn profile only.
func (c *Contact) HasSecondarySource() bool {
	return c.LinkedInURL != nil && *c.LinkedInURL != ""
}
