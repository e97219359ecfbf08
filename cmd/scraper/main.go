// Package main wires together the scraper binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/hiredeck/collegerecruiter-scraper/internal/cascade"
	"github.com/hiredeck/collegerecruiter-scraper/internal/clock/system"
	"github.com/hiredeck/collegerecruiter-scraper/internal/config"
	collyfetcher "github.com/hiredeck/collegerecruiter-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/hiredeck/collegerecruiter-scraper/internal/fetcher/headless"
	"github.com/hiredeck/collegerecruiter-scraper/internal/logging"
	"github.com/hiredeck/collegerecruiter-scraper/internal/ops"
	pubsubpublisher "github.com/hiredeck/collegerecruiter-scraper/internal/publisher/pubsub"
	"github.com/hiredeck/collegerecruiter-scraper/internal/runner"
	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
	"github.com/hiredeck/collegerecruiter-scraper/internal/sink"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	keyword := flag.String("keyword", "", "Search keyword (overrides config)")
	location := flag.String("location", "", "Search location (overrides config)")
	results := flag.Int("results", 0, "Number of results wanted (overrides config)")
	startURL := flag.String("start-url", "", "Search URL to start from (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg, *keyword, *location, *results, *startURL)
	if err := cfg.ApplyStartURL(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid start url: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		if errors.Is(err, scrape.ErrNoResults) {
			logger.Error("run failed: no jobs collected")
		} else {
			logger.Error("run failed", zap.Error(err))
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	proxies := scrape.NewProxyPicker(cfg.Proxy.URLTemplate)

	client := collyfetcher.New(collyfetcher.Config{
		Timeout:  cfg.HTTPTimeout(),
		Referer:  cfg.Site.SearchURL,
		MinDelay: time.Duration(cfg.HTTP.MinDelayMs) * time.Millisecond,
		MaxDelay: time.Duration(cfg.HTTP.MaxDelayMs) * time.Millisecond,
	}, proxies, logger.Named("fetcher"))

	var renderer scrape.Renderer
	if cfg.Headless.Enabled {
		renderer = headlessfetcher.New(
			headlessfetcher.Config{
				UserAgent:         cfg.Headless.UserAgent,
				NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
				SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
			},
			headlessfetcher.ResourcePolicy{
				BlockedResourceTypes:    cfg.Headless.BlockedResourceTypes,
				BlockedDomainSubstrings: cfg.Headless.BlockedDomains,
			},
			proxies,
			logger.Named("headless"),
		)
	}

	retryer := scrape.NewRetryer(
		cfg.HTTP.MaxRetries,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		logger.Named("retry"),
	)

	resolver, err := cascade.New(client, renderer, retryer, clock, cascade.Config{
		SearchURL:      cfg.Site.SearchURL,
		NextDataURL:    cfg.Site.NextDataURL,
		InternalAPIURL: cfg.Site.InternalAPIURL,
	}, logger.Named("cascade"))
	if err != nil {
		return fmt.Errorf("build resolver: %w", err)
	}

	recordSink, finish, err := buildSink(ctx, cfg, clock.Now(), logger)
	if err != nil {
		return fmt.Errorf("build sink: %w", err)
	}

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build publisher: %w", err)
	}

	if cfg.Ops.Enabled {
		opsServer := ops.NewServer(cfg.Ops.Addr, logger.Named("ops"))
		go func() {
			if err := opsServer.Start(); err != nil {
				logger.Error("ops server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("ops server shutdown error", zap.Error(err))
			}
		}()
	}

	r, err := runner.New(resolver, client, retryer, recordSink, publisher, clock, runner.Config{
		Query: scrape.SearchQuery{
			Keyword:        cfg.Search.Keyword,
			Location:       cfg.Search.Location,
			Category:       cfg.Search.Category,
			Company:        cfg.Search.Company,
			EmploymentType: cfg.Search.EmploymentType,
		},
		ResultsWanted:  cfg.Run.ResultsWanted,
		MaxPages:       cfg.Run.MaxPages,
		MaxConcurrency: cfg.Run.MaxConcurrency,
		CollectDetails: cfg.Run.CollectDetails,
		Budget:         cfg.Budget(),
		SummaryTopic:   cfg.PubSub.TopicName,
	}, logger.Named("runner"))
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}

	summary, runErr := r.Run(ctx)
	if err := finish(ctx, summary); err != nil {
		logger.Warn("finalize sink failed", zap.Error(err))
	}
	return runErr
}

func applyFlags(cfg *config.Config, keyword, location string, results int, startURL string) {
	if keyword != "" {
		cfg.Search.Keyword = keyword
	}
	if location != "" {
		cfg.Search.Location = location
	}
	if results > 0 {
		cfg.Run.ResultsWanted = results
	}
	if startURL != "" {
		cfg.Search.StartURL = startURL
	}
}

// buildSink returns the configured sink plus a finalizer that writes or
// uploads the run artifacts.
func buildSink(
	ctx context.Context,
	cfg config.Config,
	started time.Time,
	logger *zap.Logger,
) (scrape.Sink, func(context.Context, scrape.Summary) error, error) {
	switch cfg.Sink.Kind {
	case "file":
		fileSink, err := sink.NewFileSink(cfg.Sink.Dir, logger.Named("sink"))
		if err != nil {
			return nil, nil, err
		}
		finish := func(_ context.Context, summary scrape.Summary) error {
			if err := fileSink.WriteSummary(summary); err != nil {
				return err
			}
			return fileSink.Close()
		}
		return fileSink, finish, nil
	case "postgres":
		pgSink, err := sink.NewPostgresSink(ctx, sink.PostgresConfig{
			DSN:      cfg.Sink.Postgres.DSN,
			Table:    cfg.Sink.Postgres.Table,
			MaxConns: cfg.Sink.Postgres.MaxConns,
			MinConns: cfg.Sink.Postgres.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		finish := func(context.Context, scrape.Summary) error {
			pgSink.Close()
			return nil
		}
		return pgSink, finish, nil
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		gcsSink, err := sink.NewGCSSink(client, sink.GCSConfig{
			Bucket: cfg.Sink.GCS.Bucket,
			Prefix: cfg.Sink.GCS.Prefix,
		}, started)
		if err != nil {
			return nil, nil, err
		}
		finish := func(ctx context.Context, _ scrape.Summary) error {
			uri, err := gcsSink.Flush(ctx)
			if err != nil {
				return err
			}
			if uri != "" {
				logger.Info("dataset uploaded", zap.String("uri", uri))
			}
			return client.Close()
		}
		return gcsSink, finish, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (scrape.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return pubsubpublisher.New(client)
}
