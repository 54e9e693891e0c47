// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-crawler/internal/crawler"
)

// Storage backends accepted by storage.backend.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig governs frontier traversal.
type CrawlerConfig struct {
	Seeds               []string      `mapstructure:"seeds"`
	UserAgent           string        `mapstructure:"user_agent"`
	MaxPages            int           `mapstructure:"max_pages"`
	MaxDepth            int           `mapstructure:"max_depth"`
	SameOriginOnly      bool          `mapstructure:"same_origin_only"`
	RespectRobots       bool          `mapstructure:"respect_robots"`
	MinDelay            time.Duration `mapstructure:"min_delay"`
	GlobalRPS           float64       `mapstructure:"global_rps"`
	URLPrefixes         []string      `mapstructure:"url_prefixes"`
	ExcludePatterns     []string      `mapstructure:"exclude_patterns"`
	DenyHosts           []string      `mapstructure:"deny_hosts"`
	AllowedContentTypes string        `mapstructure:"allowed_content_types"`
	MaxBodyBytes        int64         `mapstructure:"max_body_bytes"`
	UseSitemaps         bool          `mapstructure:"use_sitemaps"`
}

// HTTPConfig configures the HTTP client and retry behavior.
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

// StorageConfig selects where raw pages go.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the document database. An empty DSN keeps
// documents in memory.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for page notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// IngestConfig tunes the page handler.
type IngestConfig struct {
	MinTextLength int `mapstructure:"min_text_length"`
}

// MetricsConfig exposes /metrics and /healthz when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("crawler.user_agent", crawler.DefaultUserAgent)
	v.SetDefault("crawler.max_pages", crawler.DefaultMaxPages)
	v.SetDefault("crawler.max_depth", crawler.DefaultMaxDepth)
	v.SetDefault("crawler.same_origin_only", true)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.min_delay", "0s")
	v.SetDefault("crawler.global_rps", 0)
	v.SetDefault("crawler.url_prefixes", []string{})
	v.SetDefault("crawler.exclude_patterns", []string{})
	v.SetDefault("crawler.deny_hosts", []string{})
	v.SetDefault("crawler.allowed_content_types", crawler.DefaultAllowedContentTypes.String())
	v.SetDefault("crawler.max_body_bytes", crawler.DefaultMaxBodyBytes)
	v.SetDefault("crawler.use_sitemaps", false)
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_retries", crawler.DefaultRetryPolicy().MaxRetries)
	v.SetDefault("http.backoff", crawler.DefaultRetryPolicy().BaseBackoff.String())
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", "data/pages")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.table", "documents")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("ingest.min_text_length", 500)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.MinDelay < 0 {
		return fmt.Errorf("crawler.min_delay must be >= 0")
	}
	if c.Crawler.GlobalRPS < 0 {
		return fmt.Errorf("crawler.global_rps must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// CrawlerOptions converts the crawler and http sections into crawler.Options.
func (c Config) CrawlerOptions(logger *zap.Logger) (crawler.Options, error) {
	opts := crawler.DefaultOptions()
	opts.UserAgent = c.Crawler.UserAgent
	opts.MaxPages = c.Crawler.MaxPages
	opts.MaxDepth = c.Crawler.MaxDepth
	opts.SameOriginOnly = c.Crawler.SameOriginOnly
	opts.RespectRobots = c.Crawler.RespectRobots
	opts.MinDelay = c.Crawler.MinDelay
	opts.GlobalRPS = c.Crawler.GlobalRPS
	opts.DenyHosts = c.Crawler.DenyHosts
	opts.Retry = crawler.RetryPolicy{MaxRetries: c.HTTP.MaxRetries, BaseBackoff: c.HTTP.Backoff}
	opts.HTTPClient = &http.Client{Timeout: c.HTTP.Timeout}
	opts.Logger = logger
	if c.Crawler.MaxBodyBytes > 0 {
		opts.MaxBodyBytes = c.Crawler.MaxBodyBytes
	}

	for _, p := range c.Crawler.ExcludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return crawler.Options{}, fmt.Errorf("crawler.exclude_patterns %q: %w", p, err)
		}
		opts.ExcludePatterns = append(opts.ExcludePatterns, re)
	}
	if c.Crawler.AllowedContentTypes != "" {
		re, err := regexp.Compile(c.Crawler.AllowedContentTypes)
		if err != nil {
			return crawler.Options{}, fmt.Errorf("crawler.allowed_content_types: %w", err)
		}
		opts.AllowedContentTypes = re
	}
	if prefixes := c.Crawler.URLPrefixes; len(prefixes) > 0 {
		opts.URLFilter = func(u string) bool {
			for _, p := range prefixes {
				if strings.HasPrefix(u, p) {
					return true
				}
			}
			return false
		}
	}
	return opts, nil
}
