// Package resolver maps discovered entity names to canonical directory
// identifiers through a four-tier cascade. Every tier uses only the
// zero-cost preview query forms; resolution never touches the priced
// full-record endpoint regardless of tier reached.
package resolver

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-pipeline/internal/cache"
	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/pkg/apollo"
	"github.com/sells-group/prospect-pipeline/pkg/opencorp"
)

// Per-tier confidence: tier 1 is definitionally exact; later tiers scale
// down so confidence never increases with tier number.
const (
	tier2Confidence = 0.95
	tier3Scale      = 0.9
	tier4Scale      = 0.8
)

// Config tunes the resolution cascade.
type Config struct {
	// MaxSearchPages bounds the tier-2 paginated name scan.
	MaxSearchPages int
	// SimilarityFloor is the minimum fuzzy score for tiers 3 and 4.
	SimilarityFloor float64
}

// DefaultConfig returns the production cascade settings.
func DefaultConfig() Config {
	return Config{
		MaxSearchPages:  5,
		SimilarityFloor: model.SimilarityFloor(),
	}
}

// Resolver resolves entity names against the primary and secondary
// directories, consulting the cache manager before any network call.
type Resolver struct {
	finder    apollo.Finder
	secondary opencorp.Client
	cache     *cache.Manager
	cfg       Config
}

// New creates a Resolver. The secondary client may be nil, which disables
// tier 4.
func New(finder apollo.Finder, secondary opencorp.Client, cm *cache.Manager, cfg Config) *Resolver {
	if cfg.MaxSearchPages <= 0 {
		cfg.MaxSearchPages = 5
	}
	if cfg.SimilarityFloor <= 0 {
		cfg.SimilarityFloor = model.SimilarityFloor()
	}
	return &Resolver{finder: finder, secondary: secondary, cache: cm, cfg: cfg}
}

// Resolve runs the tier cascade for one discovered entity. A no-match is a
// valid outcome: the entity comes back with status unresolved, preserving
// its name and website for deferred handling. The returned error is
// non-nil only for caller errors (empty name).
func (r *Resolver) Resolve(ctx context.Context, ent model.DiscoveredEntity) (model.Resolution, error) {
	key := ent.NormalizedName
	if key == "" {
		key = NormalizeName(ent.RawName)
	}
	if key == "" {
		return model.Resolution{}, eris.New("resolver: empty entity name")
	}
	ent.NormalizedName = key

	unresolved := model.Resolution{Entity: ent, Status: model.StatusUnresolved}
	log := zap.L().With(zap.String("entity", key))

	if re, ok := r.cache.GetResolved(ctx, key); ok {
		log.Debug("resolve: cache hit", zap.Int("tier", int(re.Tier)))
		return model.Resolution{Entity: ent, Status: model.StatusResolved, Resolved: re}, nil
	}

	decision := r.cache.CheckNegative(ctx, model.ClassResolvedEntity, key)
	switch decision {
	case cache.StillNegative:
		log.Debug("resolve: negative cache short-circuit")
		return unresolved, nil
	case cache.RetryGranted:
		log.Debug("resolve: negative cool-down elapsed, retrying once")
	}

	re, sawError := r.cascade(ctx, ent, log)
	if re != nil {
		r.cache.PutResolved(ctx, key, re)
		return model.Resolution{Entity: ent, Status: model.StatusResolved, Resolved: re}, nil
	}

	// Only a clean no-match poisons the negative cache. Transient directory
	// failures stay retryable on the next pass, unless this pass spent the
	// window's retry grant: re-recording restarts the cool-down and re-arms
	// the grant so each window still gets one retry.
	if !sawError || decision == cache.RetryGranted {
		r.cache.RecordNegative(ctx, model.ClassResolvedEntity, key)
	}
	return unresolved, nil
}

// cascade attempts tiers 1-4 in order, stopping at the first hit. Tier N is
// attempted only after tiers 1..N-1 failed. Directory errors are logged and
// treated as tier misses so one flaky endpoint never aborts resolution.
func (r *Resolver) cascade(ctx context.Context, ent model.DiscoveredEntity, log *zap.Logger) (re *model.ResolvedEntity, sawError bool) {
	name := ent.NormalizedName

	// Tier 1: website exact match on the registrable root domain.
	if domain := RootDomain(ent.Website); domain != "" {
		preview, err := r.finder.FilterByDomain(ctx, domain)
		switch {
		case err != nil:
			sawError = true
			log.Warn("resolve: tier 1 query failed", zap.Error(err))
		case preview != nil:
			log.Debug("resolve: tier 1 domain match", zap.String("domain", domain))
			return &model.ResolvedEntity{
				Identifier:    preview.ID,
				Tier:          model.TierDomainExact,
				Confidence:    1.0,
				CanonicalName: preview.Name,
				Website:       preview.WebsiteURL,
			}, sawError
		}
	}

	// Tier 2: paginated exact name scan, early exit on first hit.
	for page := 1; page <= r.cfg.MaxSearchPages; page++ {
		sp, err := r.finder.SearchOrganizations(ctx, name, page)
		if err != nil {
			sawError = true
			log.Warn("resolve: tier 2 query failed", zap.Int("page", page), zap.Error(err))
			break
		}
		for _, org := range sp.Organizations {
			if NormalizeName(org.Name) == name || strings.EqualFold(org.Name, ent.RawName) {
				log.Debug("resolve: tier 2 exact name match", zap.Int("page", page))
				return &model.ResolvedEntity{
					Identifier:    org.ID,
					Tier:          model.TierNameExact,
					Confidence:    tier2Confidence,
					CanonicalName: org.Name,
					Website:       org.WebsiteURL,
				}, sawError
			}
		}
		if sp.TotalPages > 0 && page >= sp.TotalPages {
			break
		}
	}

	// Tier 3: fuzzy match over directory near-matches. Only the single
	// best candidate at or above the floor is accepted.
	suggestions, err := r.finder.SuggestOrganizations(ctx, name)
	if err != nil {
		sawError = true
		log.Warn("resolve: tier 3 query failed", zap.Error(err))
	} else if best, score := bestPreview(name, suggestions); best != nil && score >= r.cfg.SimilarityFloor {
		log.Debug("resolve: tier 3 fuzzy match",
			zap.String("candidate", best.Name),
			zap.Float64("similarity", score),
		)
		return &model.ResolvedEntity{
			Identifier:    best.ID,
			Tier:          model.TierFuzzy,
			Confidence:    tier3Scale * score,
			CanonicalName: best.Name,
			Website:       best.WebsiteURL,
		}, sawError
	}

	// Tier 4: secondary registry, exact then fuzzy, same floor. Weaker
	// coverage keeps it last.
	if r.secondary == nil {
		return nil, sawError
	}

	exact, err := r.secondary.SearchExact(ctx, name)
	if err != nil {
		sawError = true
		log.Warn("resolve: tier 4 exact query failed", zap.Error(err))
	} else {
		for _, c := range exact {
			if NormalizeName(c.Name) == name {
				log.Debug("resolve: tier 4 exact match")
				return &model.ResolvedEntity{
					Identifier:    c.Number,
					Tier:          model.TierSecondary,
					Confidence:    tier4Scale,
					CanonicalName: c.Name,
					Website:       c.WebsiteURL,
				}, sawError
			}
		}
	}

	fuzzy, err := r.secondary.SearchFuzzy(ctx, name)
	if err != nil {
		sawError = true
		log.Warn("resolve: tier 4 fuzzy query failed", zap.Error(err))
		return nil, sawError
	}
	if best, score := bestCompany(name, fuzzy); best != nil && score >= r.cfg.SimilarityFloor {
		log.Debug("resolve: tier 4 fuzzy match",
			zap.String("candidate", best.Name),
			zap.Float64("similarity", score),
		)
		return &model.ResolvedEntity{
			Identifier:    best.Number,
			Tier:          model.TierSecondary,
			Confidence:    tier4Scale * score,
			CanonicalName: best.Name,
			Website:       best.WebsiteURL,
		}, sawError
	}

	return nil, sawError
}

func bestPreview(name string, candidates []apollo.OrgPreview) (*apollo.OrgPreview, float64) {
	var best *apollo.OrgPreview
	bestScore := 0.0
	for i := range candidates {
		if score := Similarity(name, NormalizeName(candidates[i].Name)); score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	return best, bestScore
}

func bestCompany(name string, candidates []opencorp.Company) (*opencorp.Company, float64) {
	var best *opencorp.Company
	bestScore := 0.0
	for i := range candidates {
		if score := Similarity(name, NormalizeName(candidates[i].Name)); score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	return best, bestScore
}
