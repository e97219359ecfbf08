package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hiredeck/collegerecruiter-scraper/internal/publisher/memory"
	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
	"github.com/hiredeck/collegerecruiter-scraper/internal/sink"
)

type stubResolver struct {
	pages map[int]scrape.PageResult
	err   error
	calls []int
}

func (r *stubResolver) Resolve(_ context.Context, _ *scrape.RunState, req scrape.PageRequest) (scrape.PageResult, error) {
	r.calls = append(r.calls, req.Page)
	if r.err != nil {
		return scrape.PageResult{}, r.err
	}
	return r.pages[req.Page], nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// steppingClock advances a fixed step on every reading, so wall-clock
// dependent paths can be driven without sleeping.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type stubDetailClient struct{}

func (stubDetailClient) Get(context.Context, scrape.FetchRequest) (scrape.FetchResponse, error) {
	return scrape.FetchResponse{}, nil
}

func jobs(ids ...string) []scrape.RawJob {
	out := make([]scrape.RawJob, len(ids))
	for i, id := range ids {
		out[i] = scrape.RawJob{ID: scrape.LooseText(id), Title: "Job " + id}
	}
	return out
}

func newTestRunner(t *testing.T, resolver *stubResolver, recordSink scrape.Sink, cfg Config) *Runner {
	t.Helper()
	if cfg.ResultsWanted == 0 {
		cfg.ResultsWanted = 10
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 5
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 3
	}
	r, err := New(resolver, nil, nil, recordSink, nil, fixedClock{now: time.Now()}, cfg, nil)
	require.NoError(t, err)
	return r
}

func TestRunCollectsAcrossPages(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{pages: map[int]scrape.PageResult{
		1: {Jobs: jobs("1", "2", "3"), TotalResults: 50, Source: scrape.SourceJSONAPI},
		2: {Jobs: jobs("4", "5"), TotalResults: 50, Source: scrape.SourceJSONAPI},
		3: {},
	}}
	memSink := sink.NewMemorySink()
	r := newTestRunner(t, resolver, memSink, Config{})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, summary.JobsSaved)
	require.Equal(t, 3, summary.PagesProcessed, "stops on the first empty page")
	require.True(t, summary.Success)
	require.False(t, summary.TimeoutReached)
	require.Len(t, memSink.Records(), 5)
}

func TestRunStopsAtTarget(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{pages: map[int]scrape.PageResult{
		1: {Jobs: jobs("1", "2", "3", "4", "5", "6", "7", "8"), TotalResults: 100},
	}}
	memSink := sink.NewMemorySink()
	r := newTestRunner(t, resolver, memSink, Config{ResultsWanted: 5})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, summary.JobsSaved, "never saves past the target")
	require.Equal(t, []int{1}, resolver.calls, "no second page once the target is met")
}

func TestRunDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{pages: map[int]scrape.PageResult{
		1: {Jobs: jobs("1", "2"), TotalResults: 10},
		2: {Jobs: jobs("2", "3"), TotalResults: 10},
		3: {},
	}}
	memSink := sink.NewMemorySink()
	r := newTestRunner(t, resolver, memSink, Config{})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.JobsSaved, "repeated listing saved once")
}

func TestRunStopsWhenAllResultsCollected(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{pages: map[int]scrape.PageResult{
		1: {Jobs: jobs("1", "2", "3"), TotalResults: 3},
	}}
	r := newTestRunner(t, resolver, sink.NewMemorySink(), Config{})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.JobsSaved)
	require.Equal(t, []int{1}, resolver.calls, "the site has nothing more to offer")
}

func TestRunFailsOnZeroYield(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{err: errors.New("every tier exhausted")}
	r := newTestRunner(t, resolver, sink.NewMemorySink(), Config{})

	summary, err := r.Run(context.Background())
	require.ErrorIs(t, err, scrape.ErrNoResults)
	require.False(t, summary.Success)
	require.Zero(t, summary.JobsSaved)
}

func TestRunEmptyFirstPageIsFailure(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{pages: map[int]scrape.PageResult{1: {}}}
	r := newTestRunner(t, resolver, sink.NewMemorySink(), Config{})

	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, scrape.ErrNoResults)
}

func TestNewRequiresRetryerForDetails(t *testing.T) {
	t.Parallel()

	_, err := New(
		&stubResolver{}, stubDetailClient{}, nil, sink.NewMemorySink(), nil,
		fixedClock{now: time.Now()}, Config{CollectDetails: true}, nil,
	)
	require.Error(t, err, "detail collection needs a retryer, not just a client")
}

func TestRunStopsWhenBudgetExceeded(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{pages: map[int]scrape.PageResult{
		1: {Jobs: jobs("1", "2", "3"), TotalResults: 50},
		2: {Jobs: jobs("4", "5"), TotalResults: 50},
	}}
	memSink := sink.NewMemorySink()
	clock := &steppingClock{now: time.Now(), step: time.Second}
	r, err := New(resolver, nil, nil, memSink, nil, clock, Config{
		ResultsWanted:  10,
		MaxPages:       5,
		MaxConcurrency: 1,
		Budget:         3 * time.Second,
	}, nil)
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.True(t, summary.TimeoutReached, "overrunning the budget ends the run, not the record")
	require.True(t, summary.Success)
	require.Equal(t, 3, summary.JobsSaved, "page one's records survive the cutoff")
	require.Equal(t, []int{1}, resolver.calls, "no page starts past the budget")
}

func TestRunPublishesSummary(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{pages: map[int]scrape.PageResult{
		1: {Jobs: jobs("1"), TotalResults: 1},
	}}
	pub := memory.New()
	r, err := New(resolver, nil, nil, sink.NewMemorySink(), pub, fixedClock{now: time.Now()}, Config{
		ResultsWanted:  5,
		MaxPages:       2,
		MaxConcurrency: 2,
		SummaryTopic:   "scrape-runs",
	}, nil)
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "scrape-runs", msgs[0].Topic)
	require.Equal(t, summary, msgs[0].Payload)
}

func TestRunRecordsDroppedWithoutIdentity(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{pages: map[int]scrape.PageResult{
		1: {Jobs: []scrape.RawJob{{Title: "No id, no url"}, {ID: "7", Title: "Keeper"}}, TotalResults: 2},
	}}
	memSink := sink.NewMemorySink()
	r := newTestRunner(t, resolver, memSink, Config{})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.JobsSaved)
	require.Equal(t, "7", memSink.Records()[0].ID)
}
