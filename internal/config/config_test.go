package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "US", cfg.Search.Location)
	require.Equal(t, 50, cfg.Run.ResultsWanted)
	require.Equal(t, 5, cfg.Run.MaxPages)
	require.Equal(t, 5, cfg.Run.MaxConcurrency)
	require.False(t, cfg.Run.CollectDetails)
	require.Equal(t, 210*time.Second, cfg.Budget())
	require.Equal(t, 35*time.Second, cfg.HTTPTimeout())
	require.Equal(t, 3, cfg.HTTP.MaxRetries)
	require.Equal(t, 1000, cfg.HTTP.BackoffInitialMs)
	require.Equal(t, "https://www.collegerecruiter.com/job-search", cfg.Site.SearchURL)
	require.Equal(t, "https://www.collegerecruiter.com/_next/data", cfg.Site.NextDataURL)
	require.Empty(t, cfg.Site.InternalAPIURL, "no internal endpoint until one is identified")
	require.Equal(t, "file", cfg.Sink.Kind)
	require.True(t, cfg.Headless.Enabled)
	require.Contains(t, cfg.Headless.BlockedResourceTypes, "Image")
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
search:
  keyword: nursing
  location: Boston
run:
  results_wanted: 25
  collect_details: true
sink:
  kind: postgres
  postgres:
    dsn: postgres://localhost/jobs
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "nursing", cfg.Search.Keyword)
	require.Equal(t, "Boston", cfg.Search.Location)
	require.Equal(t, 25, cfg.Run.ResultsWanted)
	require.True(t, cfg.Run.CollectDetails)
	require.Equal(t, "postgres", cfg.Sink.Kind)
	require.Equal(t, 5, cfg.Run.MaxPages, "defaults survive partial files")
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(*Config){
		"zero results wanted":   func(c *Config) { c.Run.ResultsWanted = 0 },
		"zero max pages":        func(c *Config) { c.Run.MaxPages = 0 },
		"zero concurrency":      func(c *Config) { c.Run.MaxConcurrency = 0 },
		"missing search url":    func(c *Config) { c.Site.SearchURL = "" },
		"unknown sink":          func(c *Config) { c.Sink.Kind = "kafka" },
		"postgres without dsn":  func(c *Config) { c.Sink.Kind = "postgres" },
		"gcs without bucket":    func(c *Config) { c.Sink.Kind = "gcs" },
		"inverted delay window": func(c *Config) { c.HTTP.MinDelayMs = 900; c.HTTP.MaxDelayMs = 100 },
		"template no session":   func(c *Config) { c.Proxy.URLTemplate = "http://proxy:8000" },
		"ops enabled, no addr":  func(c *Config) { c.Ops.Enabled = true; c.Ops.Addr = "" },
		"file sink, no dir":     func(c *Config) { c.Sink.Dir = "" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestApplyStartURL(t *testing.T) {
	cfg := Config{
		Search: SearchConfig{
			Keyword:  "old keyword",
			StartURL: "https://www.collegerecruiter.com/job-search?keywords=nursing&location=Boston&employmentType=PART_TIME",
		},
	}
	require.NoError(t, cfg.ApplyStartURL())
	require.Equal(t, "nursing", cfg.Search.Keyword)
	require.Equal(t, "Boston", cfg.Search.Location)
	require.Equal(t, "PART_TIME", cfg.Search.EmploymentType)
}

func TestApplyStartURLRejectsForeignLinks(t *testing.T) {
	cfg := Config{Search: SearchConfig{StartURL: "https://example.com/careers?keyword=x"}}
	require.Error(t, cfg.ApplyStartURL())
}

func TestApplyStartURLKeepsFieldsWhenParamsAbsent(t *testing.T) {
	cfg := Config{
		Search: SearchConfig{
			Keyword:  "retail",
			Location: "Miami",
			StartURL: "https://www.collegerecruiter.com/job-search?location=Austin",
		},
	}
	require.NoError(t, cfg.ApplyStartURL())
	require.Equal(t, "retail", cfg.Search.Keyword)
	require.Equal(t, "Austin", cfg.Search.Location)
}
