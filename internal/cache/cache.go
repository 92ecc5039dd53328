// Package cache implements the freshness-aware cache manager sitting between
// the pipeline and the persistence store. All store failures degrade to
// pass-through misses; the manager never propagates a persistence error to
// its caller.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/internal/store"
)

// Manager provides freshness-aware reads and idempotent writes over the
// three cache record classes plus negative-result caching.
type Manager struct {
	store store.Store
	cfg   Config
	now   func() time.Time
}

// NewManager creates a cache manager over the given store.
func NewManager(st store.Store, cfg Config) *Manager {
	return &Manager{store: st, cfg: cfg, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Lookup is the result of a freshness-aware cache read.
type Lookup struct {
	Record    *model.CacheRecord
	Freshness Freshness
}

// Usable reports whether the cached payload may be served without a fetch.
func (l *Lookup) Usable() bool {
	return l != nil && l.Record != nil && l.Freshness != Expired
}

// Get reads a cache record and classifies its freshness. A store failure is
// logged and reported as a miss so the caller falls through to a fetch.
func (m *Manager) Get(ctx context.Context, class model.EntityClass, key string) *Lookup {
	rec, err := m.store.GetCache(ctx, class, key)
	if err != nil {
		zap.L().Warn("cache: read degraded to pass-through",
			zap.String("class", string(class)),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil
	}
	if rec == nil {
		return nil
	}

	age := m.now().Sub(rec.FetchedAt)
	return &Lookup{
		Record:    rec,
		Freshness: m.cfg.policyFor(class).Evaluate(age),
	}
}

// Put upserts a cache record. Write failures are logged, not returned:
// a dead store must not abort the pipeline that produced the payload.
func (m *Manager) Put(ctx context.Context, class model.EntityClass, key string, payload []byte) {
	err := m.store.PutCache(ctx, model.CacheRecord{
		Class:     class,
		Key:       key,
		Payload:   payload,
		FetchedAt: m.now(),
		TTL:       model.TTLPositive,
	})
	if err != nil {
		zap.L().Warn("cache: write failed",
			zap.String("class", string(class)),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// PutEnvelope writes a fetched organization envelope under its primary
// identifier and, when the record carries a usable canonical domain,
// opportunistically writes a second index entry so lookups by either key
// hit cache. The bonus write never fails the primary one.
func (m *Manager) PutEnvelope(ctx context.Context, env *model.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		zap.L().Warn("cache: marshal envelope", zap.Error(err))
		return
	}

	m.Put(ctx, model.ClassOrganization, env.Organization.ID, payload)

	if domain := env.Organization.Domain; domain != "" && domain != env.Organization.ID {
		m.Put(ctx, model.ClassOrganization, domain, payload)
	}
}

// GetEnvelope is Get plus envelope decoding for the organization class.
func (m *Manager) GetEnvelope(ctx context.Context, key string) (*model.Envelope, Freshness, bool) {
	lookup := m.Get(ctx, model.ClassOrganization, key)
	if !lookup.Usable() {
		return nil, Expired, false
	}

	var env model.Envelope
	if err := json.Unmarshal(lookup.Record.Payload, &env); err != nil {
		zap.L().Warn("cache: corrupt envelope payload treated as miss",
			zap.String("key", key), zap.Error(err))
		return nil, Expired, false
	}
	return &env, lookup.Freshness, true
}

// PutProfile caches a person profile under its directory id.
func (m *Manager) PutProfile(ctx context.Context, p *model.Profile) {
	payload, err := json.Marshal(p)
	if err != nil {
		zap.L().Warn("cache: marshal profile", zap.Error(err))
		return
	}
	m.Put(ctx, model.ClassProfile, p.ID, payload)
}

// GetProfile is Get plus profile decoding. The profile class has a genuine
// serve-stale band, so callers must inspect the returned Freshness.
func (m *Manager) GetProfile(ctx context.Context, id string) (*model.Profile, Freshness, bool) {
	lookup := m.Get(ctx, model.ClassProfile, id)
	if !lookup.Usable() {
		return nil, Expired, false
	}

	var p model.Profile
	if err := json.Unmarshal(lookup.Record.Payload, &p); err != nil {
		zap.L().Warn("cache: corrupt profile payload treated as miss",
			zap.String("key", id), zap.Error(err))
		return nil, Expired, false
	}
	return &p, lookup.Freshness, true
}

// GetResolved reads a cached resolution for a normalized entity name.
func (m *Manager) GetResolved(ctx context.Context, key string) (*model.ResolvedEntity, bool) {
	lookup := m.Get(ctx, model.ClassResolvedEntity, key)
	if !lookup.Usable() {
		return nil, false
	}

	var re model.ResolvedEntity
	if err := json.Unmarshal(lookup.Record.Payload, &re); err != nil {
		zap.L().Warn("cache: corrupt resolved payload treated as miss",
			zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &re, true
}

// PutResolved caches a successful resolution and clears any negative entry
// for the same key.
func (m *Manager) PutResolved(ctx context.Context, key string, re *model.ResolvedEntity) {
	payload, err := json.Marshal(re)
	if err != nil {
		zap.L().Warn("cache: marshal resolved entity", zap.Error(err))
		return
	}
	m.Put(ctx, model.ClassResolvedEntity, key, payload)

	if err := m.store.DeleteNegative(ctx, model.ClassResolvedEntity, key); err != nil {
		zap.L().Warn("cache: clear negative", zap.String("key", key), zap.Error(err))
	}
}

// NegativeDecision says whether a previously-failed key may be queried again.
type NegativeDecision int

const (
	// QueryAllowed means no negative entry blocks the lookup.
	QueryAllowed NegativeDecision = iota
	// RetryGranted means the cool-down elapsed and this caller won the
	// single permitted retry.
	RetryGranted
	// StillNegative means the key failed recently; short-circuit to
	// unresolved without touching the external directory.
	StillNegative
)

// CheckNegative evaluates the negative cache for a key. Store failures
// degrade to QueryAllowed: with the cache unavailable the resolver pays the
// lookup rather than silently dropping entities.
func (m *Manager) CheckNegative(ctx context.Context, class model.EntityClass, key string) NegativeDecision {
	entry, err := m.store.GetNegative(ctx, class, key)
	if err != nil {
		zap.L().Warn("cache: negative read degraded", zap.String("key", key), zap.Error(err))
		return QueryAllowed
	}
	if entry == nil {
		return QueryAllowed
	}

	if m.now().Sub(entry.FailedAt) < m.cfg.NegativeCooldown {
		return StillNegative
	}

	granted, err := m.store.GrantNegativeRetry(ctx, class, key)
	if err != nil {
		zap.L().Warn("cache: negative retry grant degraded", zap.String("key", key), zap.Error(err))
		return QueryAllowed
	}
	if granted {
		return RetryGranted
	}
	// Another caller already spent the retry for this window.
	return StillNegative
}

// RecordNegative stores (or refreshes) a failed-resolution entry, resetting
// the cool-down window and the retry grant.
func (m *Manager) RecordNegative(ctx context.Context, class model.EntityClass, key string) {
	if err := m.store.PutNegative(ctx, class, key, m.now()); err != nil {
		zap.L().Warn("cache: record negative", zap.String("key", key), zap.Error(err))
	}
}
