package discovery

import (
	"context"
	"fmt"

	"github.com/sells-group/prospect-pipeline/internal/feeds"
	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/pkg/apollo"
	"github.com/sells-group/prospect-pipeline/pkg/notion"
	"github.com/sells-group/prospect-pipeline/pkg/salesforce"
)

// CRMSource lists CRM accounts as explicit mentions (confidence 1.0).
type CRMSource struct {
	Client      salesforce.Client
	AccountType string
	Limit       int
}

func (s *CRMSource) Name() string { return "crm" }

func (s *CRMSource) Collect(ctx context.Context, criteria model.Criteria) ([]model.DiscoveredEntity, error) {
	limit := s.Limit
	if criteria.MaxLeads > 0 && (limit <= 0 || criteria.MaxLeads < limit) {
		limit = criteria.MaxLeads
	}

	accounts, err := salesforce.ListAccounts(ctx, s.Client, s.AccountType, limit)
	if err != nil {
		return nil, err
	}

	ents := make([]model.DiscoveredEntity, 0, len(accounts))
	for _, a := range accounts {
		if a.Name == "" {
			continue
		}
		ents = append(ents, model.DiscoveredEntity{
			RawName:    a.Name,
			Source:     model.SourceCRM,
			Confidence: model.SourceCRM.Confidence(),
			Context:    fmt.Sprintf("crm account %s (%s)", a.ID, a.Type),
			Website:    a.Website,
		})
	}
	return ents, nil
}

// WatchlistSource reads a Notion database of tracked companies as derived
// expansions (confidence 0.8).
type WatchlistSource struct {
	Client     notion.Client
	DatabaseID string
}

func (s *WatchlistSource) Name() string { return "watchlist" }

func (s *WatchlistSource) Collect(ctx context.Context, _ model.Criteria) ([]model.DiscoveredEntity, error) {
	entries, err := notion.ListWatchlist(ctx, s.Client, s.DatabaseID)
	if err != nil {
		return nil, err
	}

	ents := make([]model.DiscoveredEntity, 0, len(entries))
	for _, e := range entries {
		ents = append(ents, model.DiscoveredEntity{
			RawName:    e.Name,
			Source:     model.SourceWatchlist,
			Confidence: model.SourceWatchlist.Confidence(),
			Context:    e.Notes,
			Website:    e.Website,
		})
	}
	return ents, nil
}

// SeedFileSource loads the criteria's seed-list URLs (confidence 0.8).
// Individual list failures skip that list rather than failing the source.
type SeedFileSource struct {
	Loader *feeds.Loader
}

func (s *SeedFileSource) Name() string { return "seed_file" }

func (s *SeedFileSource) Collect(ctx context.Context, criteria model.Criteria) ([]model.DiscoveredEntity, error) {
	var ents []model.DiscoveredEntity
	var lastErr error

	for _, src := range criteria.SeedURLs {
		entries, err := s.Loader.Load(ctx, src)
		if err != nil {
			lastErr = err
			continue
		}
		for _, e := range entries {
			ents = append(ents, model.DiscoveredEntity{
				RawName:    e.Name,
				Source:     model.SourceSeedFile,
				Confidence: model.SourceSeedFile.Confidence(),
				Context:    e.Context,
				Website:    e.Website,
			})
		}
	}

	if len(ents) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return ents, nil
}

// KeywordSource expands criteria keywords into candidate names via the
// directory's zero-cost suggest endpoint (confidence 0.6).
type KeywordSource struct {
	Finder apollo.Finder
}

func (s *KeywordSource) Name() string { return "keyword" }

func (s *KeywordSource) Collect(ctx context.Context, criteria model.Criteria) ([]model.DiscoveredEntity, error) {
	keywords := criteria.Keywords
	if criteria.Industry != "" {
		keywords = append(keywords[:len(keywords):len(keywords)], criteria.Industry)
	}

	var ents []model.DiscoveredEntity
	for _, kw := range keywords {
		previews, err := s.Finder.SuggestOrganizations(ctx, kw)
		if err != nil {
			return nil, err
		}
		for _, p := range previews {
			ents = append(ents, model.DiscoveredEntity{
				RawName:    p.Name,
				Source:     model.SourceKeyword,
				Confidence: model.SourceKeyword.Confidence(),
				Context:    fmt.Sprintf("keyword %q", kw),
				Website:    p.WebsiteURL,
			})
		}
	}
	return ents, nil
}
