package model

import "time"

// Stage is a pipeline stage within a session. Stages are strictly ordered
// and never revisited.
type Stage string

const (
	StageDiscovery      Stage = "discovery"
	StagePreviewResolve Stage = "preview_resolve"
	StageBatchCollect   Stage = "batch_collect"
	StageEvaluate       Stage = "evaluate"
)

// SessionStatus reflects whether a session still has identifiers to hand out.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionExhausted SessionStatus = "exhausted"
)

// Session is the durable state of one discovery run. The identifier set is
// ordered and immutable once written; only the orchestrator mutates cursor,
// stage and status. Cursor never decreases and never exceeds len(Identifiers).
type Session struct {
	ID          string        `json:"id"`
	Criteria    Criteria      `json:"criteria"`
	Stage       Stage         `json:"stage"`
	Identifiers []string      `json:"identifiers"`
	Unresolved  []Resolution  `json:"unresolved,omitempty"`
	Cursor      int           `json:"cursor"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Remaining is the count of identifiers not yet handed to the caller.
func (s *Session) Remaining() int {
	return len(s.Identifiers) - s.Cursor
}

// Criteria describes what a discovery run should look for.
type Criteria struct {
	Keywords []string `json:"keywords,omitempty"`
	Industry string   `json:"industry,omitempty"`
	Location string   `json:"location,omitempty"`
	SeedURLs []string `json:"seed_urls,omitempty"`
	MaxLeads int      `json:"max_leads,omitempty"`
}
