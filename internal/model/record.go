package model

import (
	"encoding/json"
	"time"
)

// EntityClass selects which cache table a record belongs to.
type EntityClass string

const (
	ClassResolvedEntity EntityClass = "resolved_entity"
	ClassProfile        EntityClass = "profile"
	ClassOrganization   EntityClass = "organization"
)

// TTLClass tags how a cache record's freshness is evaluated.
type TTLClass string

const (
	TTLPositive TTLClass = "positive"
	TTLNegative TTLClass = "negative"
)

// CacheRecord is a stored external fetch result (or negative outcome).
type CacheRecord struct {
	Class     EntityClass `json:"entity_class"`
	Key       string      `json:"key"`
	Payload   []byte      `json:"payload,omitempty"`
	FetchedAt time.Time   `json:"fetched_at"`
	TTL       TTLClass    `json:"ttl_class"`
}

// Envelope wraps a loosely-typed external payload: the structured subset the
// pipeline understands plus the raw blob, so unknown upstream fields survive
// a round trip through the cache.
type Envelope struct {
	Organization Organization    `json:"organization"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// Organization is the structured subset of a full directory record.
type Organization struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Domain        string   `json:"domain,omitempty"`
	WebsiteURL    string   `json:"website_url,omitempty"`
	Industry      string   `json:"industry,omitempty"`
	EmployeeCount int      `json:"employee_count,omitempty"`
	City          string   `json:"city,omitempty"`
	State         string   `json:"state,omitempty"`
	Country       string   `json:"country,omitempty"`
	// Directory ids of associated organizations (parents, subsidiaries,
	// portfolio companies) eligible for bounded enrichment.
	RelatedIDs []string `json:"related_ids,omitempty"`
	// Directory ids of key contacts eligible for profile enrichment.
	KeyContactIDs []string `json:"key_contact_ids,omitempty"`
}

// Profile is the structured subset of a full person profile. Profiles are
// cached under their own class because people churn faster than companies.
type Profile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Title          string `json:"title,omitempty"`
	Seniority      string `json:"seniority,omitempty"`
	Email          string `json:"email,omitempty"`
	LinkedinURL    string `json:"linkedin_url,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// RecordSource says whether a collected record came from cache or a paid fetch.
type RecordSource string

const (
	SourceCache RecordSource = "cache"
	SourceFetch RecordSource = "fetch"
)

// RecordStatus is the per-item outcome inside a batch collection.
type RecordStatus string

const (
	RecordOK     RecordStatus = "ok"
	RecordFailed RecordStatus = "failed"
)

// CollectedRecord is the ephemeral per-identifier result of a batch collect.
type CollectedRecord struct {
	Identifier string    `json:"identifier"`
	Envelope   *Envelope `json:"envelope,omitempty"`
	// Contacts are the record's key-contact profiles, served from the
	// profile cache or fetched alongside the organization.
	Contacts []Profile    `json:"contacts,omitempty"`
	Source   RecordSource `json:"source"`
	Status   RecordStatus `json:"status"`
	// Stale marks a record served from a cache entry past its fresh window:
	// usable now, flagged for background refresh.
	Stale bool   `json:"stale,omitempty"`
	Error string `json:"error,omitempty"`
}
