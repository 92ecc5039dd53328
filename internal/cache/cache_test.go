package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/internal/store"
)

func testConfig() Config {
	return Config{
		Profile:          Policy{FreshFor: time.Hour, ServeStaleFor: 3 * time.Hour},
		Organization:     Policy{FreshFor: 2 * time.Hour, ServeStaleFor: 2 * time.Hour},
		ResolvedEntity:   Policy{FreshFor: 24 * time.Hour, ServeStaleFor: 24 * time.Hour},
		NegativeCooldown: time.Hour,
	}
}

func newTestManager(t *testing.T) (*Manager, *clock) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	clk := &clock{t: time.Now().UTC()}
	return NewManager(st, testConfig()).WithNow(clk.now), clk
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestPutGetInsideFreshnessWindow(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.Put(ctx, model.ClassProfile, "p1", []byte(`{"name":"Jane"}`))

	lookup := m.Get(ctx, model.ClassProfile, "p1")
	require.True(t, lookup.Usable())
	assert.Equal(t, Fresh, lookup.Freshness)
	assert.JSONEq(t, `{"name":"Jane"}`, string(lookup.Record.Payload))
}

func TestProfileWindows(t *testing.T) {
	m, clk := newTestManager(t)
	ctx := context.Background()

	m.Put(ctx, model.ClassProfile, "p1", []byte(`{}`))

	clk.advance(2 * time.Hour) // inside middle window
	lookup := m.Get(ctx, model.ClassProfile, "p1")
	require.True(t, lookup.Usable())
	assert.Equal(t, Stale, lookup.Freshness)

	clk.advance(2 * time.Hour) // past forced-stale bound
	lookup = m.Get(ctx, model.ClassProfile, "p1")
	require.NotNil(t, lookup)
	assert.Equal(t, Expired, lookup.Freshness)
	assert.False(t, lookup.Usable())
}

func TestOrganizationSingleWindow(t *testing.T) {
	m, clk := newTestManager(t)
	ctx := context.Background()

	m.Put(ctx, model.ClassOrganization, "org-1", []byte(`{}`))

	clk.advance(time.Hour)
	assert.True(t, m.Get(ctx, model.ClassOrganization, "org-1").Usable())

	clk.advance(2 * time.Hour)
	assert.False(t, m.Get(ctx, model.ClassOrganization, "org-1").Usable())
}

func TestPutEnvelopeDualKeys(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	env := &model.Envelope{Organization: model.Organization{
		ID:     "1234567",
		Name:   "Acme Corp",
		Domain: "acme.com",
	}}
	m.PutEnvelope(ctx, env)

	byID, _, ok := m.GetEnvelope(ctx, "1234567")
	require.True(t, ok)
	assert.Equal(t, "Acme Corp", byID.Organization.Name)

	byDomain, _, ok := m.GetEnvelope(ctx, "acme.com")
	require.True(t, ok)
	assert.Equal(t, "1234567", byDomain.Organization.ID)
}

func TestResolvedRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	re := &model.ResolvedEntity{
		Identifier:    "org-9",
		Tier:          model.TierDomainExact,
		Confidence:    1.0,
		CanonicalName: "Krisp Technologies",
	}
	m.PutResolved(ctx, "krisp technologies", re)

	got, ok := m.GetResolved(ctx, "krisp technologies")
	require.True(t, ok)
	assert.Equal(t, "org-9", got.Identifier)
	assert.Equal(t, model.TierDomainExact, got.Tier)
}

func TestNegativeCooldownSingleRetry(t *testing.T) {
	m, clk := newTestManager(t)
	ctx := context.Background()

	key := "ghost co"
	assert.Equal(t, QueryAllowed, m.CheckNegative(ctx, model.ClassResolvedEntity, key))

	m.RecordNegative(ctx, model.ClassResolvedEntity, key)

	// Inside the cool-down: short-circuit, no external query.
	clk.advance(30 * time.Minute)
	assert.Equal(t, StillNegative, m.CheckNegative(ctx, model.ClassResolvedEntity, key))

	// After expiry: exactly one retry granted.
	clk.advance(time.Hour)
	assert.Equal(t, RetryGranted, m.CheckNegative(ctx, model.ClassResolvedEntity, key))
	assert.Equal(t, StillNegative, m.CheckNegative(ctx, model.ClassResolvedEntity, key))

	// A fresh failure resets the window and the grant.
	m.RecordNegative(ctx, model.ClassResolvedEntity, key)
	assert.Equal(t, StillNegative, m.CheckNegative(ctx, model.ClassResolvedEntity, key))
	clk.advance(2 * time.Hour)
	assert.Equal(t, RetryGranted, m.CheckNegative(ctx, model.ClassResolvedEntity, key))
}

func TestPutResolvedClearsNegative(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	key := "late bloomer llc"
	m.RecordNegative(ctx, model.ClassResolvedEntity, key)
	m.PutResolved(ctx, key, &model.ResolvedEntity{Identifier: "org-7", Tier: model.TierNameExact, Confidence: 0.95})

	assert.Equal(t, QueryAllowed, m.CheckNegative(ctx, model.ClassResolvedEntity, key))
}

// failingStore simulates an unavailable persistence layer.
type failingStore struct {
	store.Store
}

var errDown = eris.New("store down")

func (f *failingStore) GetCache(context.Context, model.EntityClass, string) (*model.CacheRecord, error) {
	return nil, errDown
}
func (f *failingStore) PutCache(context.Context, model.CacheRecord) error { return errDown }
func (f *failingStore) GetNegative(context.Context, model.EntityClass, string) (*store.NegativeEntry, error) {
	return nil, errDown
}
func (f *failingStore) PutNegative(context.Context, model.EntityClass, string, time.Time) error {
	return errDown
}

func TestDegradesToPassThroughWhenStoreUnavailable(t *testing.T) {
	m := NewManager(&failingStore{}, testConfig())
	ctx := context.Background()

	// Reads report misses, writes are swallowed, negative checks allow the
	// query: nothing here may abort the caller.
	assert.Nil(t, m.Get(ctx, model.ClassProfile, "p1"))
	m.Put(ctx, model.ClassProfile, "p1", []byte(`{}`))
	assert.Equal(t, QueryAllowed, m.CheckNegative(ctx, model.ClassResolvedEntity, "anything"))
	m.RecordNegative(ctx, model.ClassResolvedEntity, "anything")
}
