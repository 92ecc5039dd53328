package main

import (
	"context"
	"os"
	"time"

	sf "github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-pipeline/internal/cache"
	"github.com/sells-group/prospect-pipeline/internal/collector"
	"github.com/sells-group/prospect-pipeline/internal/discovery"
	"github.com/sells-group/prospect-pipeline/internal/evaluator"
	"github.com/sells-group/prospect-pipeline/internal/feeds"
	"github.com/sells-group/prospect-pipeline/internal/resolver"
	"github.com/sells-group/prospect-pipeline/internal/session"
	"github.com/sells-group/prospect-pipeline/internal/store"
	"github.com/sells-group/prospect-pipeline/pkg/anthropic"
	"github.com/sells-group/prospect-pipeline/pkg/apollo"
	"github.com/sells-group/prospect-pipeline/pkg/notion"
	"github.com/sells-group/prospect-pipeline/pkg/opencorp"
	sfpkg "github.com/sells-group/prospect-pipeline/pkg/salesforce"
)

// env bundles the wired pipeline for a CLI invocation.
type env struct {
	store store.Store
	orch  *session.Orchestrator
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "prospect.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (PROSPECT_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	client, err := sf.Init(sf.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}
	return sfpkg.NewClient(client), nil
}

func cacheConfig() cache.Config {
	c := cache.DefaultConfig()
	if h := cfg.Cache.ProfileFreshHours; h > 0 {
		c.Profile.FreshFor = time.Duration(h) * time.Hour
	}
	if h := cfg.Cache.ProfileStaleHours; h > 0 {
		c.Profile.ServeStaleFor = time.Duration(h) * time.Hour
	}
	if h := cfg.Cache.OrgFreshHours; h > 0 {
		c.Organization = cache.Policy{
			FreshFor:      time.Duration(h) * time.Hour,
			ServeStaleFor: time.Duration(h) * time.Hour,
		}
	}
	if h := cfg.Cache.ResolvedFreshHours; h > 0 {
		c.ResolvedEntity = cache.Policy{
			FreshFor:      time.Duration(h) * time.Hour,
			ServeStaleFor: time.Duration(h) * time.Hour,
		}
	}
	if h := cfg.Cache.NegativeCooldownH; h > 0 {
		c.NegativeCooldown = time.Duration(h) * time.Hour
	}
	return c
}

// discoverySources wires every configured source; missing credentials just
// drop that source from the fan-out.
func discoverySources(finder apollo.Finder) []discovery.Source {
	var sources []discovery.Source

	if sfClient, err := initSalesforce(); err != nil {
		zap.L().Warn("crm source disabled", zap.Error(err))
	} else {
		sources = append(sources, &discovery.CRMSource{
			Client:      sfClient,
			AccountType: cfg.Salesforce.AccountType,
		})
	}

	if cfg.Notion.Token != "" && cfg.Notion.WatchlistDB != "" {
		sources = append(sources, &discovery.WatchlistSource{
			Client:     notion.NewClient(cfg.Notion.Token),
			DatabaseID: cfg.Notion.WatchlistDB,
		})
	} else {
		zap.L().Debug("watchlist source disabled: notion token or database not set")
	}

	sources = append(sources,
		&discovery.SeedFileSource{Loader: feeds.NewLoader(feeds.Options{
			Timeout: time.Duration(cfg.Feeds.TimeoutSecs) * time.Second,
		})},
		&discovery.KeywordSource{Finder: finder},
	)
	return sources
}

// initEnv wires the full pipeline: store, cache manager, directory clients,
// discovery sources, resolver, collector, evaluator, orchestrator.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cm := cache.NewManager(st, cacheConfig())

	apolloClient := apollo.NewClient(cfg.Apollo.BaseURL, cfg.Apollo.Key,
		apollo.WithRateLimit(cfg.Apollo.RPS))

	var secondary opencorp.Client
	if cfg.OpenCorp.Key != "" {
		secondary = opencorp.NewClient(cfg.OpenCorp.BaseURL, cfg.OpenCorp.Key,
			opencorp.WithRateLimit(cfg.OpenCorp.RPS))
	} else {
		zap.L().Debug("secondary registry disabled: no api key, resolver tier 4 off")
	}

	r := resolver.New(apolloClient, secondary, cm, resolver.Config{
		MaxSearchPages:  cfg.Resolver.MaxSearchPages,
		SimilarityFloor: cfg.Resolver.SimilarityFloor,
	})

	c := collector.New(apolloClient, cm, collector.Config{
		Scope:         apollo.AssociationScope(cfg.Collector.AssociationScope),
		RelatedFanout: cfg.Collector.RelatedFanout,
		ContactFanout: cfg.Collector.ContactFanout,
		RPS:           cfg.Collector.RPS,
	})

	e := evaluator.New(anthropic.NewClient(cfg.Anthropic.Key), evaluator.Config{
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
		RPS:       cfg.Evaluator.RPS,
	})

	d := discovery.NewCollector(discoverySources(apolloClient)...)

	return &env{
		store: st,
		orch:  session.New(st, d, r, c, e),
	}, nil
}
