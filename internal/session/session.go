// Package session orchestrates the four-stage pipeline state machine:
// discovery, preview resolution, batch collection, evaluation. Sessions are
// durable and resumable; the cursor makes repeated load-more calls
// incremental rather than re-running discovery or resolution.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-pipeline/internal/collector"
	"github.com/sells-group/prospect-pipeline/internal/discovery"
	"github.com/sells-group/prospect-pipeline/internal/evaluator"
	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/internal/resolver"
	"github.com/sells-group/prospect-pipeline/internal/store"
)

// ErrNotFound reports an unknown session id: a caller error, never retried.
var ErrNotFound = store.ErrNotFound

// Orchestrator drives sessions through their stages. All mutation of a
// session's cursor, stage and status happens here, serialized per session.
type Orchestrator struct {
	store     store.Store
	discovery *discovery.Collector
	resolver  *resolver.Resolver
	collector *collector.Collector
	evaluator *evaluator.Evaluator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Orchestrator.
func New(st store.Store, d *discovery.Collector, r *resolver.Resolver, c *collector.Collector, e *evaluator.Evaluator) *Orchestrator {
	return &Orchestrator{
		store:     st,
		discovery: d,
		resolver:  r,
		collector: c,
		evaluator: e,
		locks:     make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the per-session mutex, creating it on first use.
// Concurrent load-more calls on one session serialize so the cursor never
// double-advances; different sessions proceed independently.
func (o *Orchestrator) sessionLock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	return l
}

// Start runs discovery and resolution for the criteria, persists the full
// resolved identifier set, and leaves the session parked at batch-collect
// with cursor 0. Per-entity resolution failures are non-fatal; entities that
// resolve nowhere are preserved on the session as unresolved.
func (o *Orchestrator) Start(ctx context.Context, criteria model.Criteria) (*model.Session, error) {
	now := time.Now().UTC()
	sess := &model.Session{
		ID:        uuid.NewString(),
		Criteria:  criteria,
		Stage:     model.StageDiscovery,
		Status:    model.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "session: create")
	}

	entities, err := o.discovery.Discover(ctx, criteria)
	if err != nil {
		return nil, eris.Wrap(err, "session: discovery")
	}
	if criteria.MaxLeads > 0 && len(entities) > criteria.MaxLeads {
		entities = entities[:criteria.MaxLeads]
	}

	identifiers, unresolved := o.resolveAll(ctx, entities)

	if err := o.store.SetSessionResolved(ctx, sess.ID, identifiers, unresolved, model.StageBatchCollect); err != nil {
		return nil, eris.Wrap(err, "session: persist resolution")
	}

	sess.Identifiers = identifiers
	sess.Unresolved = unresolved
	sess.Stage = model.StageBatchCollect

	zap.L().Info("session: started",
		zap.String("session_id", sess.ID),
		zap.Int("discovered", len(entities)),
		zap.Int("resolved", len(identifiers)),
		zap.Int("unresolved", len(unresolved)),
	)
	return sess, nil
}

// resolveAll runs every discovered entity through the resolver, splitting
// the outcomes. Identifier order follows discovery order, with duplicates
// (two names resolving to one directory id) collapsed to the first.
func (o *Orchestrator) resolveAll(ctx context.Context, entities []model.DiscoveredEntity) ([]string, []model.Resolution) {
	var identifiers []string
	var unresolved []model.Resolution
	seen := make(map[string]bool)

	for _, ent := range entities {
		res, err := o.resolver.Resolve(ctx, ent)
		if err != nil {
			zap.L().Warn("session: skipping unresolvable entity",
				zap.String("name", ent.RawName),
				zap.Error(err),
			)
			continue
		}
		if res.Status != model.StatusResolved {
			unresolved = append(unresolved, res)
			continue
		}
		if id := res.Resolved.Identifier; !seen[id] {
			seen[id] = true
			identifiers = append(identifiers, id)
		}
	}
	return identifiers, unresolved
}

// Resume loads an existing session. A populated identifier set means
// discovery and resolution are skipped entirely; a session that never got
// its identifiers re-runs them from the stored criteria.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*model.Session, error) {
	sess, err := o.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	if sess.Stage != model.StageDiscovery {
		zap.L().Debug("session: resumed without re-discovery",
			zap.String("session_id", id),
			zap.Int("cursor", sess.Cursor),
			zap.Int("identifiers", len(sess.Identifiers)),
		)
		return sess, nil
	}

	entities, err := o.discovery.Discover(ctx, sess.Criteria)
	if err != nil {
		return nil, eris.Wrap(err, "session: discovery on resume")
	}
	identifiers, unresolved := o.resolveAll(ctx, entities)
	if err := o.store.SetSessionResolved(ctx, id, identifiers, unresolved, model.StageBatchCollect); err != nil {
		return nil, eris.Wrap(err, "session: persist resolution on resume")
	}

	sess.Identifiers = identifiers
	sess.Unresolved = unresolved
	sess.Stage = model.StageBatchCollect
	return sess, nil
}

// LoadMore advances the cursor by min(count, remaining), collects exactly
// that identifier range, and reports whether the session is exhausted.
// Ranges are never re-sliced: each identifier is handed out once.
func (o *Orchestrator) LoadMore(ctx context.Context, id string, count int) ([]model.CollectedRecord, bool, error) {
	if count <= 0 {
		return nil, false, eris.New("session: count must be positive")
	}

	lock := o.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.store.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if sess.Stage == model.StageDiscovery {
		return nil, false, eris.New("session: identifiers not resolved yet, resume first")
	}

	remaining := sess.Remaining()
	if remaining <= 0 {
		return nil, true, nil
	}
	if count > remaining {
		count = remaining
	}

	slice := sess.Identifiers[sess.Cursor : sess.Cursor+count]
	newCursor := sess.Cursor + count

	exhausted := newCursor >= len(sess.Identifiers)
	status := model.SessionActive
	if exhausted {
		status = model.SessionExhausted
	}

	// Persist the advance before collecting: a crash mid-collection must
	// not hand the same range out twice.
	if err := o.store.AdvanceSession(ctx, id, newCursor, model.StageBatchCollect, status); err != nil {
		return nil, false, eris.Wrap(err, "session: advance cursor")
	}

	records := o.collector.Collect(ctx, slice)

	zap.L().Info("session: load more",
		zap.String("session_id", id),
		zap.Int("requested", count),
		zap.Int("cursor", newCursor),
		zap.Bool("exhausted", exhausted),
	)
	return records, exhausted, nil
}

// EvaluateSlice streams scores for already-collected records and moves the
// session to the evaluate stage. The stage write is best-effort ahead of the
// stream; evaluation itself never mutates the cursor.
func (o *Orchestrator) EvaluateSlice(ctx context.Context, id string, records []model.CollectedRecord, rubric *evaluator.Rubric) (<-chan model.ProgressEvent, error) {
	sess, err := o.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	if sess.Stage != model.StageEvaluate {
		if err := o.store.AdvanceSession(ctx, id, sess.Cursor, model.StageEvaluate, sess.Status); err != nil {
			return nil, eris.Wrap(err, "session: advance stage")
		}
	}
	return o.evaluator.EvaluateStream(ctx, records, rubric), nil
}

// Get returns a session by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*model.Session, error) {
	return o.store.GetSession(ctx, id)
}

// List returns sessions matching the filter, newest first.
func (o *Orchestrator) List(ctx context.Context, filter store.SessionFilter) ([]model.Session, error) {
	return o.store.ListSessions(ctx, filter)
}
