// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default site endpoints. Overridable for tests and for when the site
// moves.
const (
	defaultSearchURL   = "https://www.collegerecruiter.com/job-search"
	defaultNextDataURL = "https://www.collegerecruiter.com/_next/data"
)

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Search   SearchConfig   `mapstructure:"search"`
	Run      RunConfig      `mapstructure:"run"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Site     SiteConfig     `mapstructure:"site"`
	Sink     SinkConfig     `mapstructure:"sink"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Ops      OpsConfig      `mapstructure:"ops"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SearchConfig describes what to search for. StartURL, when set, overrides
// the individual fields with the parameters embedded in a copied search
// link.
type SearchConfig struct {
	Keyword        string `mapstructure:"keyword"`
	Location       string `mapstructure:"location"`
	Category       string `mapstructure:"category"`
	Company        string `mapstructure:"company"`
	EmploymentType string `mapstructure:"employment_type"`
	StartURL       string `mapstructure:"start_url"`
}

// RunConfig governs run-level limits.
type RunConfig struct {
	ResultsWanted  int  `mapstructure:"results_wanted"`
	MaxPages       int  `mapstructure:"max_pages"`
	MaxConcurrency int  `mapstructure:"max_concurrency"`
	CollectDetails bool `mapstructure:"collect_details"`
	BudgetSeconds  int  `mapstructure:"budget_seconds"`
}

// HTTPConfig configures the HTTP client and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	MinDelayMs       int `mapstructure:"min_delay_ms"`
	MaxDelayMs       int `mapstructure:"max_delay_ms"`
}

// ProxyConfig holds the upstream proxy URL template. The template contains
// a {session} placeholder filled per sticky session.
type ProxyConfig struct {
	URLTemplate string `mapstructure:"url_template"`
}

// HeadlessConfig configures the browser-render tier.
type HeadlessConfig struct {
	Enabled              bool     `mapstructure:"enabled"`
	UserAgent            string   `mapstructure:"user_agent"`
	NavTimeoutSec        int      `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs        int      `mapstructure:"settle_delay_ms"`
	BlockedResourceTypes []string `mapstructure:"blocked_resource_types"`
	BlockedDomains       []string `mapstructure:"blocked_domains"`
}

// SiteConfig locates the site endpoints. InternalAPIURL is empty unless a
// usable internal search endpoint has been identified.
type SiteConfig struct {
	SearchURL      string `mapstructure:"search_url"`
	NextDataURL    string `mapstructure:"next_data_url"`
	InternalAPIURL string `mapstructure:"internal_api_url"`
}

// SinkConfig selects and configures the record destination.
type SinkConfig struct {
	Kind     string             `mapstructure:"kind"`
	Dir      string             `mapstructure:"dir"`
	Postgres PostgresSinkConfig `mapstructure:"postgres"`
	GCS      GCSSinkConfig      `mapstructure:"gcs"`
}

// PostgresSinkConfig controls the Postgres sink pool.
type PostgresSinkConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// GCSSinkConfig controls the GCS sink.
type GCSSinkConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OpsConfig controls the operational HTTP endpoint.
type OpsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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

	if err := cfg.ApplyStartURL(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.location", "US")
	v.SetDefault("run.results_wanted", 50)
	v.SetDefault("run.max_pages", 5)
	v.SetDefault("run.max_concurrency", 5)
	v.SetDefault("run.collect_details", false)
	v.SetDefault("run.budget_seconds", 210)
	v.SetDefault("http.timeout_seconds", 35)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.min_delay_ms", 500)
	v.SetDefault("http.max_delay_ms", 2000)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.nav_timeout_seconds", 60)
	v.SetDefault("headless.settle_delay_ms", 2000)
	v.SetDefault("headless.blocked_resource_types", []string{"Image", "Media", "Font"})
	v.SetDefault("headless.blocked_domains", []string{
		"google-analytics.com",
		"googletagmanager.com",
		"doubleclick.net",
		"facebook.net",
		"hotjar.com",
	})
	v.SetDefault("site.search_url", defaultSearchURL)
	v.SetDefault("site.next_data_url", defaultNextDataURL)
	v.SetDefault("sink.kind", "file")
	v.SetDefault("sink.dir", "output")
	v.SetDefault("sink.postgres.table", "jobs")
	v.SetDefault("sink.gcs.prefix", "runs")
	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.addr", ":8080")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Run.ResultsWanted <= 0 {
		return fmt.Errorf("run.results_wanted must be > 0")
	}
	if c.Run.MaxPages <= 0 {
		return fmt.Errorf("run.max_pages must be > 0")
	}
	if c.Run.MaxConcurrency <= 0 {
		return fmt.Errorf("run.max_concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxDelayMs < c.HTTP.MinDelayMs {
		return fmt.Errorf("http.max_delay_ms must be >= http.min_delay_ms")
	}
	if c.Site.SearchURL == "" {
		return fmt.Errorf("site.search_url is required")
	}
	if c.Proxy.URLTemplate != "" && !strings.Contains(c.Proxy.URLTemplate, "{session}") {
		return fmt.Errorf("proxy.url_template must contain a {session} placeholder")
	}
	switch c.Sink.Kind {
	case "file":
		if c.Sink.Dir == "" {
			return fmt.Errorf("sink.dir is required for the file sink")
		}
	case "postgres":
		if c.Sink.Postgres.DSN == "" {
			return fmt.Errorf("sink.postgres.dsn is required for the postgres sink")
		}
	case "gcs":
		if c.Sink.GCS.Bucket == "" {
			return fmt.Errorf("sink.gcs.bucket is required for the gcs sink")
		}
	default:
		return fmt.Errorf("sink.kind must be one of file, postgres, gcs")
	}
	if c.Ops.Enabled && c.Ops.Addr == "" {
		return fmt.Errorf("ops.addr must be set when the ops server is enabled")
	}
	return nil
}

// ApplyStartURL overwrites the search fields with the query parameters of
// the configured start URL, so users can paste a search link from the site
// instead of filling fields one by one. A URL pointing elsewhere than the
// search page is rejected.
func (c *Config) ApplyStartURL() error {
	if c.Search.StartURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Search.StartURL)
	if err != nil {
		return fmt.Errorf("parse start url: %w", err)
	}
	if !strings.Contains(parsed.Path, "job-search") {
		return fmt.Errorf("start url %q is not a job search link", c.Search.StartURL)
	}
	q := parsed.Query()
	pick := func(current string, keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(q.Get(k)); v != "" {
				return v
			}
		}
		return current
	}
	c.Search.Keyword = pick(c.Search.Keyword, "keyword", "keywords")
	c.Search.Location = pick(c.Search.Location, "location")
	c.Search.Category = pick(c.Search.Category, "category")
	c.Search.Company = pick(c.Search.Company, "company")
	c.Search.EmploymentType = pick(c.Search.EmploymentType, "employmentType", "employment_type")
	return nil
}

// Budget converts the run budget into a duration.
func (c Config) Budget() time.Duration {
	return time.Duration(c.Run.BudgetSeconds) * time.Second
}

// HTTPTimeout converts the HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
