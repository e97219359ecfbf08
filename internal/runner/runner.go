// Package runner implements the run controller: sequential pagination with
// a wall-clock budget, bounded per-listing fan-out, dedup, optional detail
// enrichment and the run-level stop conditions.
package runner

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hiredeck/collegerecruiter-scraper/internal/extract"
	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

const sessionDetail = "detail"

// Config controls one collection run.
type Config struct {
	Query          scrape.SearchQuery
	ResultsWanted  int
	MaxPages       int
	MaxConcurrency int
	CollectDetails bool
	// Budget is the safety wall-clock limit. Exceeding it ends the run as
	// "timeout reached", not as a failure.
	Budget time.Duration
	// SummaryTopic, when set together with a publisher, receives the run
	// summary on completion.
	SummaryTopic string
}

// Runner drives a complete run from first page to summary.
type Runner struct {
	resolver  scrape.PageResolver
	client    scrape.Client
	retry     *scrape.Retryer
	sink      scrape.Sink
	publisher scrape.Publisher
	clock     scrape.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner. client and retry may be nil when detail
// collection is off; publisher may be nil.
func New(
	resolver scrape.PageResolver,
	client scrape.Client,
	retry *scrape.Retryer,
	sink scrape.Sink,
	publisher scrape.Publisher,
	clock scrape.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Runner, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.CollectDetails && client == nil {
		return nil, fmt.Errorf("client is required when collecting details")
	}
	if cfg.CollectDetails && retry == nil {
		return nil, fmt.Errorf("retryer is required when collecting details")
	}
	if cfg.ResultsWanted < 1 {
		cfg.ResultsWanted = 1
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 210 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		resolver:  resolver,
		client:    client,
		retry:     retry,
		sink:      sink,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run executes the pagination loop and returns the run summary. The error
// is non-nil only for the run-level hard failure: zero records saved.
func (r *Runner) Run(ctx context.Context) (scrape.Summary, error) {
	state := scrape.NewRunState(r.clock.Now())
	limiter := scrape.NewLimiter(r.cfg.MaxConcurrency)
	// Concurrency-1 gate serializing the saved-count check against the
	// emit, so concurrent completions cannot push past the target.
	emitGate := scrape.NewLimiter(1)

	query := r.cfg.Query.Normalized()
	r.logger.Info("starting run",
		zap.String("keyword", query.Keyword),
		zap.String("location", query.Location),
		zap.Int("results_wanted", r.cfg.ResultsWanted),
		zap.Int("max_pages", r.cfg.MaxPages),
	)

	timeoutReached := false
	for page := 1; page <= r.cfg.MaxPages && state.Saved() < r.cfg.ResultsWanted; page++ {
		if elapsed := r.clock.Now().Sub(state.Started()); elapsed > r.cfg.Budget {
			r.logger.Info("run budget exceeded, stopping early",
				zap.Duration("elapsed", elapsed),
				zap.Int("saved", state.Saved()),
			)
			timeoutReached = true
			break
		}
		state.SetPagesProcessed(page)

		result, err := r.resolver.Resolve(ctx, state, scrape.PageRequest{Query: query, Page: page})
		if err != nil {
			state.CountError()
			r.logger.Error("failed to resolve page", zap.Int("page", page), zap.Error(err))
			break
		}
		r.logger.Info("page resolved",
			zap.Int("page", page),
			zap.Int("jobs", len(result.Jobs)),
			zap.String("strategy", string(result.Source)),
		)
		if len(result.Jobs) == 0 {
			r.logger.Info("no more jobs returned, stopping", zap.Int("page", page))
			break
		}

		jobs := result.Jobs
		if need := r.cfg.ResultsWanted - state.Saved(); len(jobs) > need {
			jobs = jobs[:need]
		}

		var wg sync.WaitGroup
		for _, raw := range jobs {
			wg.Add(1)
			go func(raw scrape.RawJob) {
				defer wg.Done()
				err := limiter.Do(ctx, func() error {
					return r.process(ctx, state, emitGate, raw, result.Source)
				})
				if err != nil {
					state.CountError()
					r.logger.Warn("listing task failed", zap.Error(err))
				}
			}(raw)
		}
		wg.Wait()

		elapsed := r.clock.Now().Sub(state.Started()).Seconds()
		if saved := state.Saved(); saved > 0 && elapsed > 0 {
			r.logger.Info("progress",
				zap.Int("saved", saved),
				zap.Float64("elapsed_seconds", elapsed),
				zap.Float64("jobs_per_second", float64(saved)/elapsed),
			)
		}

		if state.Saved() >= r.cfg.ResultsWanted {
			r.logger.Info("target reached", zap.Int("saved", state.Saved()))
			break
		}
		if result.TotalResults > 0 && state.Saved() >= result.TotalResults {
			r.logger.Info("all available jobs collected",
				zap.Int("saved", state.Saved()),
				zap.Int("total_results", result.TotalResults),
			)
			break
		}
	}

	return r.finish(ctx, state, timeoutReached)
}

// process handles one listing: normalize, dedup, optional detail merge,
// emit. Records with no identity are dropped silently.
func (r *Runner) process(
	ctx context.Context,
	state *scrape.RunState,
	emitGate *scrape.Limiter,
	raw scrape.RawJob,
	source scrape.Source,
) error {
	if state.Saved() >= r.cfg.ResultsWanted {
		return nil
	}

	rec := scrape.Normalize(raw, source, r.clock.Now())
	key := rec.IdentityKey()
	if key == "" {
		return nil
	}
	if !state.MarkSeen(key) {
		r.logger.Debug("skipping duplicate job", zap.String("key", key))
		return nil
	}

	if r.cfg.CollectDetails && rec.URL != "" {
		if detail, ok := r.fetchDetail(ctx, state, rec.URL); ok {
			rec = scrape.Merge(rec, detail)
		}
	}

	return emitGate.Do(ctx, func() error {
		if state.Saved() >= r.cfg.ResultsWanted {
			return nil
		}
		if err := r.sink.Push(ctx, rec); err != nil {
			return fmt.Errorf("push record: %w", err)
		}
		scrape.JobsSavedTotal.Inc()
		if saved := state.IncSaved(); saved%10 == 0 {
			r.logger.Info("saved jobs so far",
				zap.Int("saved", saved),
				zap.Int("wanted", r.cfg.ResultsWanted),
			)
		}
		return nil
	})
}

// fetchDetail enriches from the listing's detail page: DOM parse merged
// with structured data. Failures are non-fatal; the search row stands.
func (r *Runner) fetchDetail(ctx context.Context, state *scrape.RunState, jobURL string) (scrape.Record, bool) {
	var resp scrape.FetchResponse
	err := r.retry.Do(ctx, "job detail request", state, func(ctx context.Context) error {
		var fetchErr error
		resp, fetchErr = r.client.Get(ctx, scrape.FetchRequest{
			URL:     jobURL,
			Session: sessionDetail,
		})
		return fetchErr
	})
	if err != nil {
		r.logger.Debug("job detail fetch failed", zap.String("url", jobURL), zap.Error(err))
		return scrape.Record{}, false
	}
	if resp.StatusCode != http.StatusOK {
		r.logger.Debug("job detail returned error status",
			zap.String("url", jobURL),
			zap.Int("status", resp.StatusCode),
		)
		return scrape.Record{}, false
	}

	detail := extract.ParseDetail(resp.Body, jobURL)
	detail = scrape.Merge(detail, extract.JobPostingFromJSONLD(resp.Body))
	return detail, true
}

func (r *Runner) finish(ctx context.Context, state *scrape.RunState, timeoutReached bool) (scrape.Summary, error) {
	stats := state.Snapshot()
	runtime := r.clock.Now().Sub(state.Started()).Seconds()
	summary := scrape.Summary{
		JobsSaved:      state.Saved(),
		PagesProcessed: stats.PagesProcessed,
		RuntimeSeconds: runtime,
		Success:        state.Saved() > 0,
		TimeoutReached: timeoutReached,
	}

	r.logger.Info("run statistics",
		zap.Int("jobs_saved", summary.JobsSaved),
		zap.Int("pages_processed", summary.PagesProcessed),
		zap.Int("requests", stats.Requests),
		zap.Int("errors", stats.Errors),
		zap.Float64("runtime_seconds", runtime),
	)

	if r.publisher != nil && r.cfg.SummaryTopic != "" {
		if _, err := r.publisher.Publish(ctx, r.cfg.SummaryTopic, summary); err != nil {
			r.logger.Warn("summary publish failed", zap.Error(err))
		}
	}

	if summary.JobsSaved == 0 {
		return summary, scrape.ErrNoResults
	}
	return summary, nil
}
