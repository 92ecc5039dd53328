// Package discovery aggregates candidate organization names from multiple
// independent sources and deduplicates them with provenance tagging.
package discovery

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/internal/resolver"
)

// Source produces candidate entities for a discovery run. Implementations
// must be safe for one-shot concurrent use.
type Source interface {
	Name() string
	Collect(ctx context.Context, criteria model.Criteria) ([]model.DiscoveredEntity, error)
}

// Collector fans out to its sources with bounded parallelism. A failing
// source is logged and skipped; discovery always returns partial results.
type Collector struct {
	sources     []Source
	parallelism int
}

// NewCollector creates a discovery collector over the given sources.
func NewCollector(sources ...Source) *Collector {
	return &Collector{sources: sources, parallelism: 4}
}

// Discover runs every source and merges the results. Entities whose
// normalized names collide are merged: longest context wins, confidence and
// source tag keep their maximum.
func (c *Collector) Discover(ctx context.Context, criteria model.Criteria) ([]model.DiscoveredEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var all []model.DiscoveredEntity

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)

	for _, src := range c.sources {
		g.Go(func() error {
			ents, err := src.Collect(gctx, criteria)
			if err != nil {
				zap.L().Warn("discovery: source failed, skipping",
					zap.String("source", src.Name()),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			all = append(all, ents...)
			mu.Unlock()

			zap.L().Debug("discovery: source done",
				zap.String("source", src.Name()),
				zap.Int("candidates", len(ents)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := Dedupe(all)
	zap.L().Info("discovery: run complete",
		zap.Int("raw", len(all)),
		zap.Int("deduped", len(merged)),
	)
	return merged, nil
}

// Dedupe merges candidates whose normalized names match. The merged entry
// keeps the longest context string, the highest confidence, and the
// stronger source tag; raw name follows the stronger source.
func Dedupe(entities []model.DiscoveredEntity) []model.DiscoveredEntity {
	byName := make(map[string]model.DiscoveredEntity, len(entities))
	for _, e := range entities {
		if e.NormalizedName == "" {
			e.NormalizedName = resolver.NormalizeName(e.RawName)
		}
		if e.NormalizedName == "" {
			continue
		}

		prev, seen := byName[e.NormalizedName]
		if !seen {
			byName[e.NormalizedName] = e
			continue
		}
		byName[e.NormalizedName] = merge(prev, e)
	}

	out := make([]model.DiscoveredEntity, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	// Strongest candidates first, name ties alphabetical, so repeated runs
	// over the same inputs produce identical orderings.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].NormalizedName < out[j].NormalizedName
	})
	return out
}

func merge(a, b model.DiscoveredEntity) model.DiscoveredEntity {
	out := a
	if model.StrongerSource(a.Source, b.Source) != a.Source {
		out.Source = b.Source
		out.RawName = b.RawName
	}
	if b.Confidence > out.Confidence {
		out.Confidence = b.Confidence
	}
	if len(b.Context) > len(out.Context) {
		out.Context = b.Context
	}
	if out.Website == "" {
		out.Website = b.Website
	}
	return out
}
