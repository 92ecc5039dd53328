package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-pipeline/internal/cache"
	"github.com/sells-group/prospect-pipeline/internal/collector"
	"github.com/sells-group/prospect-pipeline/internal/discovery"
	"github.com/sells-group/prospect-pipeline/internal/evaluator"
	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/internal/resolver"
	"github.com/sells-group/prospect-pipeline/internal/store"
	"github.com/sells-group/prospect-pipeline/pkg/anthropic"
	"github.com/sells-group/prospect-pipeline/pkg/apollo"
)

// listSource yields a fixed entity list and counts invocations so tests can
// prove resume never re-runs discovery.
type listSource struct {
	mu    sync.Mutex
	ents  []model.DiscoveredEntity
	calls int
}

func (s *listSource) Name() string { return "fixture" }

func (s *listSource) Collect(_ context.Context, _ model.Criteria) ([]model.DiscoveredEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.ents, nil
}

func (s *listSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// directoryStub resolves any known domain at tier 1 and enriches any id.
type directoryStub struct {
	domains map[string]string // domain -> identifier
}

func (d *directoryStub) FilterByDomain(_ context.Context, domain string) (*apollo.OrgPreview, error) {
	if id, ok := d.domains[domain]; ok {
		return &apollo.OrgPreview{ID: id, Name: "Org " + id, WebsiteURL: "https://" + domain}, nil
	}
	return nil, nil
}

func (d *directoryStub) SearchOrganizations(_ context.Context, _ string, page int) (*apollo.SearchPage, error) {
	return &apollo.SearchPage{Page: page, TotalPages: 1}, nil
}

func (d *directoryStub) SuggestOrganizations(_ context.Context, _ string) ([]apollo.OrgPreview, error) {
	return nil, nil
}

func (d *directoryStub) EnrichOrganization(_ context.Context, id string, _ apollo.AssociationScope) (*apollo.OrgRecord, error) {
	return &apollo.OrgRecord{ID: id, Name: "Org " + id}, nil
}

func (d *directoryStub) EnrichProfile(_ context.Context, id string) (*apollo.ProfileRecord, error) {
	return &apollo.ProfileRecord{ID: id, Name: "Person " + id}, nil
}

type staticScore struct{}

func (staticScore) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return &anthropic.MessageResponse{Text: `{"score": 70, "justification": "fine"}`}, nil
}

func fixtureEntities(n int) ([]model.DiscoveredEntity, map[string]string) {
	ents := make([]model.DiscoveredEntity, n)
	domains := make(map[string]string, n)
	for i := range ents {
		domain := fmt.Sprintf("org%03d.example.com", i)
		ents[i] = model.DiscoveredEntity{
			RawName:    fmt.Sprintf("Org %03d Inc", i),
			Source:     model.SourceCRM,
			Confidence: 1.0,
			Website:    "https://" + domain,
		}
		domains[domain] = fmt.Sprintf("id-%03d", i)
	}
	return ents, domains
}

func newOrchestrator(t *testing.T, src discovery.Source, dir *directoryStub) (*Orchestrator, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	cm := cache.NewManager(st, cache.DefaultConfig())
	r := resolver.New(dir, nil, cm, resolver.DefaultConfig())
	c := collector.New(dir, cm, collector.Config{RelatedFanout: 3, RPS: 10000})
	e := evaluator.New(staticScore{}, evaluator.Config{RPS: 10000})

	return New(st, discovery.NewCollector(src), r, c, e), st
}

func TestStartResolvesAndParksAtBatchCollect(t *testing.T) {
	ctx := context.Background()
	ents, domains := fixtureEntities(5)
	src := &listSource{ents: ents}
	o, _ := newOrchestrator(t, src, &directoryStub{domains: domains})

	sess, err := o.Start(ctx, model.Criteria{Industry: "manufacturing"})
	require.NoError(t, err)

	assert.Equal(t, model.StageBatchCollect, sess.Stage)
	assert.Len(t, sess.Identifiers, 5)
	assert.Empty(t, sess.Unresolved)
	assert.Zero(t, sess.Cursor)
	assert.Equal(t, model.SessionActive, sess.Status)

	// Durable: a fresh read sees the same state.
	got, err := o.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Identifiers, got.Identifiers)
	assert.Equal(t, model.StageBatchCollect, got.Stage)
}

func TestStartPreservesUnresolved(t *testing.T) {
	ctx := context.Background()
	ents, domains := fixtureEntities(3)
	ents = append(ents, model.DiscoveredEntity{
		RawName: "Ghost Ventures", Source: model.SourceKeyword, Confidence: 0.6,
	})
	src := &listSource{ents: ents}
	o, _ := newOrchestrator(t, src, &directoryStub{domains: domains})

	sess, err := o.Start(ctx, model.Criteria{})
	require.NoError(t, err)
	assert.Len(t, sess.Identifiers, 3)
	require.Len(t, sess.Unresolved, 1)
	assert.Equal(t, "ghost ventures", sess.Unresolved[0].Entity.NormalizedName)
	assert.Equal(t, model.StatusUnresolved, sess.Unresolved[0].Status)
}

func TestLoadMoreIncrementalSlices(t *testing.T) {
	ctx := context.Background()
	ents, domains := fixtureEntities(47)
	src := &listSource{ents: ents}
	o, _ := newOrchestrator(t, src, &directoryStub{domains: domains})

	sess, err := o.Start(ctx, model.Criteria{})
	require.NoError(t, err)
	require.Len(t, sess.Identifiers, 47)

	seen := make(map[string]bool)
	record := func(records []model.CollectedRecord) {
		for _, r := range records {
			assert.False(t, seen[r.Identifier], "identifier %s handed out twice", r.Identifier)
			seen[r.Identifier] = true
		}
	}

	records, exhausted, err := o.LoadMore(ctx, sess.ID, 20)
	require.NoError(t, err)
	assert.Len(t, records, 20)
	assert.False(t, exhausted)
	record(records)

	records, exhausted, err = o.LoadMore(ctx, sess.ID, 20)
	require.NoError(t, err)
	assert.Len(t, records, 20)
	assert.False(t, exhausted)
	record(records)

	// Only 7 remain; the request is clamped and the session exhausts.
	records, exhausted, err = o.LoadMore(ctx, sess.ID, 20)
	require.NoError(t, err)
	assert.Len(t, records, 7)
	assert.True(t, exhausted)
	record(records)
	assert.Len(t, seen, 47)

	// Exhausted sessions return empty without touching the collector.
	records, exhausted, err = o.LoadMore(ctx, sess.ID, 20)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.True(t, exhausted)

	got, err := o.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionExhausted, got.Status)
	assert.Equal(t, 47, got.Cursor)
}

func TestLoadMoreUnknownSession(t *testing.T) {
	o, _ := newOrchestrator(t, &listSource{}, &directoryStub{})
	_, _, err := o.LoadMore(context.Background(), "no-such-session", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadMoreRejectsNonPositiveCount(t *testing.T) {
	o, _ := newOrchestrator(t, &listSource{}, &directoryStub{})
	_, _, err := o.LoadMore(context.Background(), "whatever", 0)
	assert.Error(t, err)
}

func TestResumeSkipsDiscovery(t *testing.T) {
	ctx := context.Background()
	ents, domains := fixtureEntities(4)
	src := &listSource{ents: ents}
	o, _ := newOrchestrator(t, src, &directoryStub{domains: domains})

	sess, err := o.Start(ctx, model.Criteria{})
	require.NoError(t, err)
	require.Equal(t, 1, src.callCount())

	resumed, err := o.Resume(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Identifiers, resumed.Identifiers)
	assert.Equal(t, model.StageBatchCollect, resumed.Stage)
	// The core cost-control property: no second discovery run.
	assert.Equal(t, 1, src.callCount())
}

func TestResumeUnknownSession(t *testing.T) {
	o, _ := newOrchestrator(t, &listSource{}, &directoryStub{})
	_, err := o.Resume(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentLoadMoreNeverDoubleAdvances(t *testing.T) {
	ctx := context.Background()
	ents, domains := fixtureEntities(40)
	src := &listSource{ents: ents}
	o, _ := newOrchestrator(t, src, &directoryStub{domains: domains})

	sess, err := o.Start(ctx, model.Criteria{})
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				records, exhausted, err := o.LoadMore(ctx, sess.ID, 7)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				for _, r := range records {
					seen[r.Identifier]++
				}
				mu.Unlock()
				if exhausted {
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 40)
	for id, n := range seen {
		assert.Equal(t, 1, n, "identifier %s handed out %d times", id, n)
	}
}

func TestEvaluateSliceAdvancesStage(t *testing.T) {
	ctx := context.Background()
	ents, domains := fixtureEntities(3)
	src := &listSource{ents: ents}
	o, _ := newOrchestrator(t, src, &directoryStub{domains: domains})

	sess, err := o.Start(ctx, model.Criteria{})
	require.NoError(t, err)
	records, _, err := o.LoadMore(ctx, sess.ID, 3)
	require.NoError(t, err)

	rubric := &evaluator.Rubric{Name: "fit", Criteria: []evaluator.Criterion{{Name: "size"}}}
	ch, err := o.EvaluateSlice(ctx, sess.ID, records, rubric)
	require.NoError(t, err)

	var scored int
	for ev := range ch {
		if ev.Type == model.EventScored {
			scored++
		}
	}
	assert.Equal(t, 3, scored)

	got, err := o.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageEvaluate, got.Stage)
}

func TestListSessionsByStatus(t *testing.T) {
	ctx := context.Background()
	ents, domains := fixtureEntities(2)
	src := &listSource{ents: ents}
	o, _ := newOrchestrator(t, src, &directoryStub{domains: domains})

	a, err := o.Start(ctx, model.Criteria{})
	require.NoError(t, err)
	_, err = o.Start(ctx, model.Criteria{})
	require.NoError(t, err)

	_, _, err = o.LoadMore(ctx, a.ID, 10) // exhausts a
	require.NoError(t, err)

	exhausted, err := o.List(ctx, store.SessionFilter{Status: model.SessionExhausted})
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, a.ID, exhausted[0].ID)

	all, err := o.List(ctx, store.SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
