package cache

import (
	"time"

	"github.com/sells-group/prospect-pipeline/internal/model"
)

// Freshness classifies a cache record's age against its class policy.
type Freshness int

const (
	// Fresh records are served as-is with no external call.
	Fresh Freshness = iota
	// Stale records are served but flagged for background refresh.
	Stale
	// Expired records must be re-fetched before use.
	Expired
)

// Policy defines the freshness windows for one entity class. A record is
// fresh up to FreshFor, served-but-flagged up to ServeStaleFor, and forced
// stale beyond that. Setting ServeStaleFor equal to FreshFor yields a single
// hard window.
type Policy struct {
	FreshFor      time.Duration
	ServeStaleFor time.Duration
}

// Evaluate classifies a record age under this policy.
func (p Policy) Evaluate(age time.Duration) Freshness {
	switch {
	case age <= p.FreshFor:
		return Fresh
	case age <= p.ServeStaleFor:
		return Stale
	default:
		return Expired
	}
}

// Config holds per-class policies and the negative-result cool-down.
type Config struct {
	Profile          Policy
	Organization     Policy
	ResolvedEntity   Policy
	NegativeCooldown time.Duration
}

// DefaultConfig returns the production freshness windows: profiles are fresh
// for a week and servable for a month; organizations use a single 30-day
// window; resolved identities barely churn and keep for 180 days.
func DefaultConfig() Config {
	return Config{
		Profile:          Policy{FreshFor: 7 * 24 * time.Hour, ServeStaleFor: 30 * 24 * time.Hour},
		Organization:     Policy{FreshFor: 30 * 24 * time.Hour, ServeStaleFor: 30 * 24 * time.Hour},
		ResolvedEntity:   Policy{FreshFor: 180 * 24 * time.Hour, ServeStaleFor: 180 * 24 * time.Hour},
		NegativeCooldown: 24 * time.Hour,
	}
}

func (c Config) policyFor(class model.EntityClass) Policy {
	switch class {
	case model.ClassProfile:
		return c.Profile
	case model.ClassOrganization:
		return c.Organization
	default:
		return c.ResolvedEntity
	}
}
