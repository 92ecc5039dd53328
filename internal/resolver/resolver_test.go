package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-pipeline/internal/cache"
	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/internal/store"
	"github.com/sells-group/prospect-pipeline/pkg/apollo"
	"github.com/sells-group/prospect-pipeline/pkg/opencorp"
)

type fakeFinder struct {
	domainHit   *apollo.OrgPreview
	domainErr   error
	pages       map[int]*apollo.SearchPage
	searchErr   error
	suggestions []apollo.OrgPreview
	suggestErr  error

	domainCalls  int
	searchCalls  int
	suggestCalls int
}

func (f *fakeFinder) FilterByDomain(_ context.Context, _ string) (*apollo.OrgPreview, error) {
	f.domainCalls++
	return f.domainHit, f.domainErr
}

func (f *fakeFinder) SearchOrganizations(_ context.Context, _ string, page int) (*apollo.SearchPage, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if sp, ok := f.pages[page]; ok {
		return sp, nil
	}
	return &apollo.SearchPage{Page: page, TotalPages: len(f.pages)}, nil
}

func (f *fakeFinder) SuggestOrganizations(_ context.Context, _ string) ([]apollo.OrgPreview, error) {
	f.suggestCalls++
	return f.suggestions, f.suggestErr
}

type fakeSecondary struct {
	exact      []opencorp.Company
	fuzzy      []opencorp.Company
	exactCalls int
	fuzzyCalls int
}

func (f *fakeSecondary) SearchExact(_ context.Context, _ string) ([]opencorp.Company, error) {
	f.exactCalls++
	return f.exact, nil
}

func (f *fakeSecondary) SearchFuzzy(_ context.Context, _ string) ([]opencorp.Company, error) {
	f.fuzzyCalls++
	return f.fuzzy, nil
}

func newTestCache(t *testing.T) *cache.Manager {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return cache.NewManager(st, cache.DefaultConfig())
}

func TestResolveTierShortCircuit(t *testing.T) {
	ctx := context.Background()
	finder := &fakeFinder{
		domainHit: &apollo.OrgPreview{ID: "org-1", Name: "Acme", WebsiteURL: "https://acme.com"},
	}
	secondary := &fakeSecondary{}
	r := New(finder, secondary, newTestCache(t), DefaultConfig())

	res, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Acme Inc", Website: "https://www.acme.com"})
	require.NoError(t, err)
	require.Equal(t, model.StatusResolved, res.Status)
	assert.Equal(t, "org-1", res.Resolved.Identifier)
	assert.Equal(t, model.TierDomainExact, res.Resolved.Tier)
	assert.Equal(t, 1.0, res.Resolved.Confidence)

	// A tier-1 hit must leave every later tier untouched.
	assert.Equal(t, 1, finder.domainCalls)
	assert.Zero(t, finder.searchCalls)
	assert.Zero(t, finder.suggestCalls)
	assert.Zero(t, secondary.exactCalls)
	assert.Zero(t, secondary.fuzzyCalls)
}

func TestResolveTier2ExactNamePaged(t *testing.T) {
	ctx := context.Background()
	finder := &fakeFinder{
		pages: map[int]*apollo.SearchPage{
			1: {Organizations: []apollo.OrgPreview{{ID: "x", Name: "Other Co"}}, Page: 1, TotalPages: 3},
			2: {Organizations: []apollo.OrgPreview{{ID: "org-2", Name: "Blue River Technology LLC"}}, Page: 2, TotalPages: 3},
			3: {Organizations: []apollo.OrgPreview{{ID: "y", Name: "Never Reached"}}, Page: 3, TotalPages: 3},
		},
	}
	r := New(finder, nil, newTestCache(t), DefaultConfig())

	res, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Blue River Technology"})
	require.NoError(t, err)
	require.Equal(t, model.StatusResolved, res.Status)
	assert.Equal(t, "org-2", res.Resolved.Identifier)
	assert.Equal(t, model.TierNameExact, res.Resolved.Tier)
	assert.Equal(t, 0.95, res.Resolved.Confidence)
	// Early exit on the page-2 hit.
	assert.Equal(t, 2, finder.searchCalls)
	assert.Zero(t, finder.suggestCalls)
}

func TestResolveTier2PageCap(t *testing.T) {
	ctx := context.Background()
	// Eight claimed pages of misses: the scan must stop at the configured cap.
	pages := make(map[int]*apollo.SearchPage)
	for p := 1; p <= 8; p++ {
		pages[p] = &apollo.SearchPage{
			Organizations: []apollo.OrgPreview{{ID: "m", Name: "Mismatch"}},
			Page:          p, TotalPages: 8,
		}
	}
	finder := &fakeFinder{pages: pages}
	r := New(finder, nil, newTestCache(t), Config{MaxSearchPages: 5, SimilarityFloor: 0.75})

	res, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Unfindable Systems"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnresolved, res.Status)
	assert.Equal(t, 5, finder.searchCalls)
}

func TestResolveTier3FuzzyFloor(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts candidate at or above floor", func(t *testing.T) {
		finder := &fakeFinder{
			suggestions: []apollo.OrgPreview{
				{ID: "far", Name: "Completely Different"},
				{ID: "near", Name: "Blue River Technology Group"},
			},
		}
		r := New(finder, nil, newTestCache(t), DefaultConfig())

		res, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Blue River Technology"})
		require.NoError(t, err)
		require.Equal(t, model.StatusResolved, res.Status)
		assert.Equal(t, "near", res.Resolved.Identifier)
		assert.Equal(t, model.TierFuzzy, res.Resolved.Tier)
		// Fuzzy confidence is the scaled similarity, never a full 0.9.
		assert.Less(t, res.Resolved.Confidence, 0.9)
		assert.GreaterOrEqual(t, res.Resolved.Confidence, 0.9*0.75)
	})

	t.Run("rejects near-miss spelling of an unrelated brand", func(t *testing.T) {
		finder := &fakeFinder{
			suggestions: []apollo.OrgPreview{{ID: "crisp", Name: "Crisp"}},
		}
		r := New(finder, nil, newTestCache(t), DefaultConfig())

		res, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Krisp"})
		require.NoError(t, err)
		assert.Equal(t, model.StatusUnresolved, res.Status)
		assert.Nil(t, res.Resolved)
	})
}

func TestResolveTier4Secondary(t *testing.T) {
	ctx := context.Background()

	t.Run("exact registry match", func(t *testing.T) {
		secondary := &fakeSecondary{
			exact: []opencorp.Company{{Number: "0123456", Name: "Quiet Harbor Ltd"}},
		}
		r := New(&fakeFinder{}, secondary, newTestCache(t), DefaultConfig())

		res, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Quiet Harbor"})
		require.NoError(t, err)
		require.Equal(t, model.StatusResolved, res.Status)
		assert.Equal(t, "0123456", res.Resolved.Identifier)
		assert.Equal(t, model.TierSecondary, res.Resolved.Tier)
		assert.Equal(t, 0.8, res.Resolved.Confidence)
		assert.Zero(t, secondary.fuzzyCalls)
	})

	t.Run("fuzzy registry fallback scales confidence", func(t *testing.T) {
		secondary := &fakeSecondary{
			fuzzy: []opencorp.Company{{Number: "7654321", Name: "Blue River Technology Group"}},
		}
		r := New(&fakeFinder{}, secondary, newTestCache(t), DefaultConfig())

		res, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Blue River Technology"})
		require.NoError(t, err)
		require.Equal(t, model.StatusResolved, res.Status)
		assert.Equal(t, model.TierSecondary, res.Resolved.Tier)
		assert.Less(t, res.Resolved.Confidence, 0.8)
	})

	t.Run("nil secondary disables the tier", func(t *testing.T) {
		r := New(&fakeFinder{}, nil, newTestCache(t), DefaultConfig())

		res, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Quiet Harbor"})
		require.NoError(t, err)
		assert.Equal(t, model.StatusUnresolved, res.Status)
	})
}

func TestResolveIdempotentViaCache(t *testing.T) {
	ctx := context.Background()
	finder := &fakeFinder{
		domainHit: &apollo.OrgPreview{ID: "org-9", Name: "Acme"},
	}
	r := New(finder, nil, newTestCache(t), DefaultConfig())

	first, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Acme Incorporated", Website: "acme.com"})
	require.NoError(t, err)
	// Spelling variants normalize to the same key, so the repeat resolves
	// from cache without any directory traffic.
	second, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "acme inc", Website: "acme.com"})
	require.NoError(t, err)

	assert.Equal(t, first.Resolved.Identifier, second.Resolved.Identifier)
	assert.Equal(t, first.Resolved.Tier, second.Resolved.Tier)
	assert.Equal(t, 1, finder.domainCalls)
}

func TestResolveNegativeCacheShortCircuit(t *testing.T) {
	ctx := context.Background()
	finder := &fakeFinder{}
	r := New(finder, nil, newTestCache(t), DefaultConfig())

	res, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Ghost Ventures"})
	require.NoError(t, err)
	require.Equal(t, model.StatusUnresolved, res.Status)
	firstSearches := finder.searchCalls

	// Inside the cool-down window the cascade is skipped entirely.
	res, err = r.Resolve(ctx, model.DiscoveredEntity{RawName: "Ghost Ventures"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnresolved, res.Status)
	assert.Equal(t, firstSearches, finder.searchCalls)
	assert.Equal(t, 1, finder.suggestCalls)
}

func TestResolveNegativeCooldownGrantsOneRetry(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	now := time.Now()
	cm := cache.NewManager(st, cache.DefaultConfig()).WithNow(func() time.Time { return now })
	finder := &fakeFinder{}
	r := New(finder, nil, cm, DefaultConfig())

	_, err = r.Resolve(ctx, model.DiscoveredEntity{RawName: "Ghost Ventures"})
	require.NoError(t, err)
	suggestsAfterFirst := finder.suggestCalls

	// Past the cool-down, exactly one retry hits the directory again.
	now = now.Add(25 * time.Hour)
	_, err = r.Resolve(ctx, model.DiscoveredEntity{RawName: "Ghost Ventures"})
	require.NoError(t, err)
	assert.Equal(t, suggestsAfterFirst+1, finder.suggestCalls)
}

func TestResolveFailedGrantedRetryReArmsNextWindow(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	now := time.Now()
	cm := cache.NewManager(st, cache.DefaultConfig()).WithNow(func() time.Time { return now })
	finder := &fakeFinder{}
	r := New(finder, nil, cm, DefaultConfig())

	// Clean no-match records the negative entry.
	res, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Ghost Ventures"})
	require.NoError(t, err)
	require.Equal(t, model.StatusUnresolved, res.Status)

	// The granted retry after the cool-down hits a transient outage.
	now = now.Add(25 * time.Hour)
	finder.suggestErr = eris.New("apollo: upstream 503")
	res, err = r.Resolve(ctx, model.DiscoveredEntity{RawName: "Ghost Ventures"})
	require.NoError(t, err)
	require.Equal(t, model.StatusUnresolved, res.Status)
	suggestsAfterOutage := finder.suggestCalls

	// Spending the grant on a failed attempt restarts the window rather
	// than exhausting it: still negative inside the new window...
	finder.suggestErr = nil
	finder.suggestions = []apollo.OrgPreview{{ID: "ok", Name: "Ghost Ventures"}}
	res, err = r.Resolve(ctx, model.DiscoveredEntity{RawName: "Ghost Ventures"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnresolved, res.Status)
	assert.Equal(t, suggestsAfterOutage, finder.suggestCalls)

	// ...and a fresh retry once it elapses, which now resolves.
	now = now.Add(25 * time.Hour)
	res, err = r.Resolve(ctx, model.DiscoveredEntity{RawName: "Ghost Ventures"})
	require.NoError(t, err)
	require.Equal(t, model.StatusResolved, res.Status)
	assert.Equal(t, "ok", res.Resolved.Identifier)
	assert.Equal(t, suggestsAfterOutage+1, finder.suggestCalls)
}

func TestResolveTransientErrorDoesNotPoisonNegativeCache(t *testing.T) {
	ctx := context.Background()
	finder := &fakeFinder{
		suggestErr: eris.New("apollo: upstream 503"),
	}
	r := New(finder, nil, newTestCache(t), DefaultConfig())

	res, err := r.Resolve(ctx, model.DiscoveredEntity{RawName: "Flaky Corp"})
	require.NoError(t, err)
	require.Equal(t, model.StatusUnresolved, res.Status)

	// No negative entry was recorded, so the next attempt runs the full
	// cascade again instead of short-circuiting.
	finder.suggestErr = nil
	finder.suggestions = []apollo.OrgPreview{{ID: "ok", Name: "Flaky Corp"}}
	res, err = r.Resolve(ctx, model.DiscoveredEntity{RawName: "Flaky Corp"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, res.Status)
	assert.Equal(t, "ok", res.Resolved.Identifier)
}

func TestResolveRejectsEmptyName(t *testing.T) {
	r := New(&fakeFinder{}, nil, newTestCache(t), DefaultConfig())

	_, err := r.Resolve(context.Background(), model.DiscoveredEntity{RawName: "   "})
	assert.Error(t, err)
}
