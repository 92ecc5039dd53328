// Package config loads application configuration from config.yaml and the
// environment and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Apollo     ApolloConfig     `yaml:"apollo" mapstructure:"apollo"`
	OpenCorp   OpenCorpConfig   `yaml:"opencorp" mapstructure:"opencorp"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Collector  CollectorConfig  `yaml:"collector" mapstructure:"collector"`
	Evaluator  EvaluatorConfig  `yaml:"evaluator" mapstructure:"evaluator"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Feeds      FeedsConfig      `yaml:"feeds" mapstructure:"feeds"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ApolloConfig holds primary directory API settings.
type ApolloConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// OpenCorpConfig holds secondary registry API settings. An empty key
// disables resolver tier 4.
type OpenCorpConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// AnthropicConfig holds reasoning-service settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SalesforceConfig holds CRM JWT auth settings.
type SalesforceConfig struct {
	ClientID    string `yaml:"client_id" mapstructure:"client_id"`
	Username    string `yaml:"username" mapstructure:"username"`
	KeyPath     string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL    string `yaml:"login_url" mapstructure:"login_url"`
	AccountType string `yaml:"account_type" mapstructure:"account_type"`
}

// NotionConfig holds watchlist database settings.
type NotionConfig struct {
	Token       string `yaml:"token" mapstructure:"token"`
	WatchlistDB string `yaml:"watchlist_db" mapstructure:"watchlist_db"`
}

// ResolverConfig tunes the resolution cascade.
type ResolverConfig struct {
	MaxSearchPages  int     `yaml:"max_search_pages" mapstructure:"max_search_pages"`
	SimilarityFloor float64 `yaml:"similarity_floor" mapstructure:"similarity_floor"`
}

// CollectorConfig tunes batch collection.
type CollectorConfig struct {
	AssociationScope string  `yaml:"association_scope" mapstructure:"association_scope"`
	RelatedFanout    int     `yaml:"related_fanout" mapstructure:"related_fanout"`
	ContactFanout    int     `yaml:"contact_fanout" mapstructure:"contact_fanout"`
	RPS              float64 `yaml:"rps" mapstructure:"rps"`
}

// EvaluatorConfig tunes streaming evaluation.
type EvaluatorConfig struct {
	RubricPath string  `yaml:"rubric_path" mapstructure:"rubric_path"`
	RPS        float64 `yaml:"rps" mapstructure:"rps"`
}

// CacheConfig tunes freshness windows, in hours.
type CacheConfig struct {
	ProfileFreshHours  int `yaml:"profile_fresh_hours" mapstructure:"profile_fresh_hours"`
	ProfileStaleHours  int `yaml:"profile_stale_hours" mapstructure:"profile_stale_hours"`
	OrgFreshHours      int `yaml:"org_fresh_hours" mapstructure:"org_fresh_hours"`
	ResolvedFreshHours int `yaml:"resolved_fresh_hours" mapstructure:"resolved_fresh_hours"`
	NegativeCooldownH  int `yaml:"negative_cooldown_hours" mapstructure:"negative_cooldown_hours"`
}

// FeedsConfig configures seed-list loading.
type FeedsConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP pipeline surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "prospect.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("apollo.base_url", "https://api.apollo.io")
	v.SetDefault("apollo.rps", 5)
	v.SetDefault("opencorp.base_url", "https://api.opencorporates.com")
	v.SetDefault("opencorp.rps", 2)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("resolver.max_search_pages", 5)
	v.SetDefault("resolver.similarity_floor", 0.75)
	v.SetDefault("collector.association_scope", "current")
	v.SetDefault("collector.related_fanout", 3)
	v.SetDefault("collector.contact_fanout", 2)
	v.SetDefault("collector.rps", 2)
	v.SetDefault("evaluator.rubric_path", "rubric.yaml")
	v.SetDefault("evaluator.rps", 2)
	v.SetDefault("cache.profile_fresh_hours", 7*24)
	v.SetDefault("cache.profile_stale_hours", 30*24)
	v.SetDefault("cache.org_fresh_hours", 30*24)
	v.SetDefault("cache.resolved_fresh_hours", 180*24)
	v.SetDefault("cache.negative_cooldown_hours", 24)
	v.SetDefault("feeds.timeout_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
