// Package collector retrieves full priced directory records for a resolved
// identifier slice, serving from cache wherever freshness allows and
// write-through caching every paid fetch.
package collector

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-pipeline/internal/cache"
	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/pkg/apollo"
)

// Config tunes batch collection.
type Config struct {
	// Scope selects current-only or ever-affiliated association attribution.
	Scope apollo.AssociationScope
	// RelatedFanout caps how many referenced organizations are enriched per
	// fetched record. Referenced records are cached, not returned.
	RelatedFanout int
	// ContactFanout caps how many key-contact profiles are attached per
	// record. Profiles ride the profile cache class with its serve-stale band.
	ContactFanout int
	// RPS is the paid-fetch cadence shared across the whole batch.
	RPS float64
}

// DefaultConfig returns the production collection settings.
func DefaultConfig() Config {
	return Config{Scope: apollo.ScopeCurrent, RelatedFanout: 3, ContactFanout: 2, RPS: 2}
}

// Collector is a cache-aware, rate-limited batch retriever.
type Collector struct {
	enricher apollo.Enricher
	cache    *cache.Manager
	limiter  *rate.Limiter
	cfg      Config
}

// New creates a Collector. The limiter is shared across all Collect calls on
// this instance so concurrent batches respect one external quota.
func New(enricher apollo.Enricher, cm *cache.Manager, cfg Config) *Collector {
	if cfg.RelatedFanout < 0 {
		cfg.RelatedFanout = 0
	}
	if cfg.ContactFanout < 0 {
		cfg.ContactFanout = 0
	}
	if cfg.Scope == "" {
		cfg.Scope = apollo.ScopeCurrent
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}
	return &Collector{
		enricher: enricher,
		cache:    cm,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		cfg:      cfg,
	}
}

// Collect returns exactly one record per identifier, in input order. Cache
// hits inside the freshness window cost nothing; misses pay one fetch each
// and are written through. A failed fetch marks that record failed and the
// slice continues.
func (c *Collector) Collect(ctx context.Context, ids []string) []model.CollectedRecord {
	records := make([]model.CollectedRecord, 0, len(ids))
	var hits, fetches, failures int

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			records = append(records, model.CollectedRecord{
				Identifier: id,
				Status:     model.RecordFailed,
				Error:      err.Error(),
			})
			failures++
			continue
		}

		if env, fr, ok := c.cache.GetEnvelope(ctx, id); ok {
			hits++
			contacts, contactsStale := c.collectContacts(ctx, env)
			records = append(records, model.CollectedRecord{
				Identifier: id,
				Envelope:   env,
				Contacts:   contacts,
				Source:     model.SourceCache,
				Status:     model.RecordOK,
				Stale:      fr == cache.Stale || contactsStale,
			})
			continue
		}

		env, err := c.fetch(ctx, id)
		if err != nil {
			failures++
			zap.L().Warn("collector: fetch failed",
				zap.String("identifier", id),
				zap.Error(err),
			)
			records = append(records, model.CollectedRecord{
				Identifier: id,
				Source:     model.SourceFetch,
				Status:     model.RecordFailed,
				Error:      err.Error(),
			})
			continue
		}

		fetches++
		contacts, contactsStale := c.collectContacts(ctx, env)
		records = append(records, model.CollectedRecord{
			Identifier: id,
			Envelope:   env,
			Contacts:   contacts,
			Source:     model.SourceFetch,
			Status:     model.RecordOK,
			Stale:      contactsStale,
		})

		c.enrichRelated(ctx, env, ids)
	}

	zap.L().Info("collector: batch complete",
		zap.Int("identifiers", len(ids)),
		zap.Int("cache_hits", hits),
		zap.Int("fetches", fetches),
		zap.Int("failures", failures),
	)
	return records
}

// fetch pays for one full record and writes it through to the cache.
func (c *Collector) fetch(ctx context.Context, id string) (*model.Envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	rec, err := c.enricher.EnrichOrganization(ctx, id, c.cfg.Scope)
	if err != nil {
		return nil, err
	}

	env := envelopeFrom(rec)
	c.cache.PutEnvelope(ctx, env)
	return env, nil
}

// collectContacts resolves up to ContactFanout key-contact profiles for a
// record, cache-first. A stale cache hit is served as-is and flags the parent
// record for background refresh; only misses and forced-stale entries pay a
// fetch. Profile fetch failures skip that contact, never the record.
func (c *Collector) collectContacts(ctx context.Context, env *model.Envelope) ([]model.Profile, bool) {
	if c.cfg.ContactFanout == 0 {
		return nil, false
	}

	var contacts []model.Profile
	var stale bool
	for _, id := range env.Organization.KeyContactIDs {
		if len(contacts) >= c.cfg.ContactFanout {
			break
		}
		if id == "" {
			continue
		}

		if p, fr, ok := c.cache.GetProfile(ctx, id); ok {
			if fr == cache.Stale {
				stale = true
			}
			contacts = append(contacts, *p)
			continue
		}

		p, err := c.fetchProfile(ctx, id)
		if err != nil {
			zap.L().Warn("collector: profile enrichment failed",
				zap.String("profile", id),
				zap.String("organization", env.Organization.ID),
				zap.Error(err),
			)
			continue
		}
		contacts = append(contacts, *p)
	}
	return contacts, stale
}

// fetchProfile pays for one person profile and writes it through.
func (c *Collector) fetchProfile(ctx context.Context, id string) (*model.Profile, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	rec, err := c.enricher.EnrichProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	p := &model.Profile{
		ID:             rec.ID,
		Name:           rec.Name,
		Title:          rec.Title,
		Seniority:      rec.Seniority,
		Email:          rec.Email,
		LinkedinURL:    rec.LinkedinURL,
		OrganizationID: rec.OrganizationID,
	}
	c.cache.PutProfile(ctx, p)
	return p, nil
}

// enrichRelated caches up to RelatedFanout referenced organizations from a
// freshly fetched record. References already in the batch or already cached
// are skipped; reference fetch failures never fail the parent record, and
// references of references are not followed.
func (c *Collector) enrichRelated(ctx context.Context, env *model.Envelope, batch []string) {
	if c.cfg.RelatedFanout == 0 {
		return
	}

	inBatch := make(map[string]bool, len(batch))
	for _, id := range batch {
		inBatch[id] = true
	}

	enriched := 0
	for _, rel := range env.Organization.RelatedIDs {
		if enriched >= c.cfg.RelatedFanout {
			return
		}
		if rel == "" || inBatch[rel] {
			continue
		}
		if _, _, ok := c.cache.GetEnvelope(ctx, rel); ok {
			continue
		}

		if _, err := c.fetch(ctx, rel); err != nil {
			zap.L().Warn("collector: related enrichment failed",
				zap.String("identifier", rel),
				zap.String("parent", env.Organization.ID),
				zap.Error(err),
			)
			continue
		}
		enriched++
	}
}

func envelopeFrom(rec *apollo.OrgRecord) *model.Envelope {
	var raw json.RawMessage
	if len(rec.Raw) > 0 {
		raw = append(json.RawMessage(nil), rec.Raw...)
	}
	return &model.Envelope{
		Organization: model.Organization{
			ID:            rec.ID,
			Name:          rec.Name,
			Domain:        rec.Domain,
			WebsiteURL:    rec.WebsiteURL,
			Industry:      rec.Industry,
			EmployeeCount: rec.EmployeeCount,
			City:          rec.City,
			State:         rec.State,
			Country:       rec.Country,
			RelatedIDs:    rec.RelatedOrgIDs,
			KeyContactIDs: rec.KeyContactIDs,
		},
		Raw: raw,
	}
}
