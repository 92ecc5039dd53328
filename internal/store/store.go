package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-pipeline/internal/model"
)

// ErrNotFound is returned when a session id does not exist. Unknown sessions
// are a caller error and surface unwrapped to the request boundary.
var ErrNotFound = eris.New("session not found")

// NegativeEntry records a failed resolution outcome. Lookups inside the
// cool-down window short-circuit; after the window elapses exactly one
// retry is granted.
type NegativeEntry struct {
	Class    model.EntityClass `json:"entity_class"`
	Key      string            `json:"key"`
	FailedAt time.Time         `json:"failed_at"`
	Retried  bool              `json:"retried"`
}

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Status model.SessionStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
}

// Store defines the persistence interface for the resolution pipeline.
type Store interface {
	// Cache records, one logical table per entity class. GetCache returns
	// (nil, nil) on miss. PutCache is an idempotent upsert; concurrent
	// writers for the same key converge last-write-wins.
	GetCache(ctx context.Context, class model.EntityClass, key string) (*model.CacheRecord, error)
	PutCache(ctx context.Context, rec model.CacheRecord) error

	// Negative cache. GetNegative returns (nil, nil) when no entry exists.
	// GrantNegativeRetry atomically flips the retried flag and reports
	// whether this caller won the single post-cool-down retry.
	GetNegative(ctx context.Context, class model.EntityClass, key string) (*NegativeEntry, error)
	PutNegative(ctx context.Context, class model.EntityClass, key string, failedAt time.Time) error
	GrantNegativeRetry(ctx context.Context, class model.EntityClass, key string) (bool, error)
	DeleteNegative(ctx context.Context, class model.EntityClass, key string) error

	// Sessions. SetSessionResolved writes the immutable identifier set once;
	// AdvanceSession persists cursor/stage/status and refuses cursor regression.
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	SetSessionResolved(ctx context.Context, id string, identifiers []string, unresolved []model.Resolution, stage model.Stage) error
	AdvanceSession(ctx context.Context, id string, cursor int, stage model.Stage, status model.SessionStatus) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// cacheTables maps entity classes to their backing tables. The three classes
// are fixed; an unknown class is a programming error caught at the boundary.
var cacheTables = map[model.EntityClass]string{
	model.ClassResolvedEntity: "resolved_entities",
	model.ClassProfile:        "profile_cache",
	model.ClassOrganization:   "org_cache",
}

func cacheTable(class model.EntityClass) (string, error) {
	t, ok := cacheTables[class]
	if !ok {
		return "", eris.Errorf("store: unknown entity class %q", class)
	}
	return t, nil
}
