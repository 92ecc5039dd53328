package model

// SourceTag identifies which discovery source produced a candidate name.
type SourceTag string

const (
	SourceCRM       SourceTag = "crm"       // explicit mention in the CRM
	SourceWatchlist SourceTag = "watchlist" // tracked-company watchlist
	SourceSeedFile  SourceTag = "seed_file" // uploaded/fetched seed list
	SourceKeyword   SourceTag = "keyword"   // generic keyword expansion
)

// Confidence assigned per source tier: explicit mention 1.0,
// derived expansion 0.8, generic keyword match 0.6.
func (t SourceTag) Confidence() float64 {
	switch t {
	case SourceCRM:
		return 1.0
	case SourceWatchlist, SourceSeedFile:
		return 0.8
	default:
		return 0.6
	}
}

// rank orders source tags so dedup can keep the strongest provenance.
func (t SourceTag) rank() int {
	switch t {
	case SourceCRM:
		return 3
	case SourceWatchlist:
		return 2
	case SourceSeedFile:
		return 1
	default:
		return 0
	}
}

// StrongerSource returns the higher-provenance of two tags.
func StrongerSource(a, b SourceTag) SourceTag {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// DiscoveredEntity is a candidate organization name produced by discovery.
// Immutable after creation within a discovery run.
type DiscoveredEntity struct {
	NormalizedName string    `json:"normalized_name"`
	RawName        string    `json:"raw_name"`
	Source         SourceTag `json:"source"`
	Confidence     float64   `json:"confidence"`
	Context        string    `json:"context,omitempty"`
	Website        string    `json:"website,omitempty"`
}

// MatchTier identifies which resolution strategy produced a match.
type MatchTier int

const (
	TierDomainExact   MatchTier = 1 // website registrable-domain exact filter
	TierNameExact     MatchTier = 2 // paginated exact name scan
	TierFuzzy         MatchTier = 3 // similarity >= floor against near-matches
	TierSecondary     MatchTier = 4 // secondary directory, exact then fuzzy
	similarityFloor             = 0.75
)

// SimilarityFloor is the minimum similarity a fuzzy candidate must reach.
// Below this, near-miss collisions (similar spelling, unrelated company)
// are rejected rather than matched.
func SimilarityFloor() float64 { return similarityFloor }

// ResolutionStatus is the user-visible outcome of a resolution attempt.
type ResolutionStatus string

const (
	StatusResolved   ResolutionStatus = "resolved"
	StatusUnresolved ResolutionStatus = "unresolved"
)

// ResolvedEntity is the canonical directory identity for a discovered entity.
// Tier 1 implies confidence 1.0; confidence never increases with tier number.
type ResolvedEntity struct {
	Identifier    string    `json:"identifier"`
	Tier          MatchTier `json:"tier"`
	Confidence    float64   `json:"confidence"`
	CanonicalName string    `json:"canonical_name"`
	Website       string    `json:"website,omitempty"`
}

// Resolution pairs a discovered entity with its outcome. Entities that fail
// every tier are preserved as unresolved, never discarded.
type Resolution struct {
	Entity   DiscoveredEntity `json:"entity"`
	Status   ResolutionStatus `json:"status"`
	Resolved *ResolvedEntity  `json:"resolved,omitempty"`
}
