package cascade

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

type stubClient struct {
	mu      sync.Mutex
	calls   []scrape.FetchRequest
	respond func(req scrape.FetchRequest) (scrape.FetchResponse, error)
}

func (c *stubClient) Get(_ context.Context, req scrape.FetchRequest) (scrape.FetchResponse, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	return c.respond(req)
}

func (c *stubClient) urls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.URL
	}
	return out
}

type stubRenderer struct {
	payload []byte
	err     error
	calls   int
}

func (r *stubRenderer) RenderPayload(context.Context, string) ([]byte, error) {
	r.calls++
	return r.payload, r.err
}

func newTestResolver(t *testing.T, client scrape.Client, renderer scrape.Renderer) *Resolver {
	t.Helper()
	retry := scrape.NewRetryer(1, time.Millisecond, nil)
	r, err := New(client, renderer, retry, nil, Config{
		SearchURL:   "https://www.collegerecruiter.com/job-search",
		NextDataURL: "https://www.collegerecruiter.com/_next/data",
	}, nil)
	require.NoError(t, err)
	return r
}

const dataJSON = `{"pageProps": {"jobs": [{"id": 1, "title": "Clerk"}], "totalResults": 12}}`

const hydratedHTML = `<html><body>
<script id="__NEXT_DATA__" type="application/json">
{"buildId": "fresh-token", "props": {"pageProps": {"jobs": [{"id": 2, "title": "Teller"}], "totalResults": 8}}}
</script></body></html>`

const cardsOnlyHTML = `<html><body>
<article data-job-id="9"><h3>Greeter</h3><a href="/job/9/greeter">View</a></article>
</body></html>`

func TestResolveUsesCachedBuildToken(t *testing.T) {
	t.Parallel()

	client := &stubClient{respond: func(req scrape.FetchRequest) (scrape.FetchResponse, error) {
		require.Contains(t, req.URL, "/_next/data/cached-token/job-search.json")
		return scrape.FetchResponse{StatusCode: http.StatusOK, Body: []byte(dataJSON)}, nil
	}}
	r := newTestResolver(t, client, nil)

	state := scrape.NewRunState(time.Now())
	state.SetBuildID("cached-token")

	res, err := r.Resolve(context.Background(), state, scrape.PageRequest{Page: 2})
	require.NoError(t, err)
	require.Equal(t, scrape.SourceJSONAPI, res.Source)
	require.Equal(t, 12, res.TotalResults)
	require.Len(t, client.calls, 1, "fast path answered, no fallback fetches")
}

func TestResolveStaleTokenFallsBackToHTML(t *testing.T) {
	t.Parallel()

	client := &stubClient{respond: func(req scrape.FetchRequest) (scrape.FetchResponse, error) {
		if strings.Contains(req.URL, "/_next/data/") {
			return scrape.FetchResponse{StatusCode: http.StatusNotFound}, nil
		}
		return scrape.FetchResponse{StatusCode: http.StatusOK, Body: []byte(hydratedHTML)}, nil
	}}
	r := newTestResolver(t, client, nil)

	state := scrape.NewRunState(time.Now())
	state.SetBuildID("stale-token")

	res, err := r.Resolve(context.Background(), state, scrape.PageRequest{Page: 1})
	require.NoError(t, err)
	require.Equal(t, scrape.SourceHydratedHTML, res.Source)
	require.Equal(t, "Teller", res.Jobs[0].Title)
	require.Equal(t, "fresh-token", state.BuildID(), "stale token replaced by the one in the hydration payload")

	urls := client.urls()
	require.Len(t, urls, 2)
	require.Contains(t, urls[0], "stale-token")
	require.Contains(t, urls[1], "job-search")
}

func TestResolveParsesCardsWithoutHydration(t *testing.T) {
	t.Parallel()

	client := &stubClient{respond: func(scrape.FetchRequest) (scrape.FetchResponse, error) {
		return scrape.FetchResponse{StatusCode: http.StatusOK, Body: []byte(cardsOnlyHTML)}, nil
	}}
	r := newTestResolver(t, client, nil)

	res, err := r.Resolve(context.Background(), scrape.NewRunState(time.Now()), scrape.PageRequest{Page: 1})
	require.NoError(t, err)
	require.Equal(t, scrape.SourceHTMLParse, res.Source)
	require.Len(t, res.Jobs, 1)
	require.Equal(t, "Greeter", res.Jobs[0].Title)
}

func TestResolveEscalatesToRendererWhenBlocked(t *testing.T) {
	t.Parallel()

	client := &stubClient{respond: func(scrape.FetchRequest) (scrape.FetchResponse, error) {
		return scrape.FetchResponse{StatusCode: http.StatusForbidden}, nil
	}}
	renderer := &stubRenderer{
		payload: []byte(`{"buildId": "b", "props": {"pageProps": {"jobs": [{"id": 3, "title": "Usher"}], "totalResults": 1}}}`),
	}
	r := newTestResolver(t, client, renderer)

	res, err := r.Resolve(context.Background(), scrape.NewRunState(time.Now()), scrape.PageRequest{Page: 1})
	require.NoError(t, err)
	require.Equal(t, scrape.SourcePlaywrightJSON, res.Source)
	require.Equal(t, 1, renderer.calls)
	require.Equal(t, "Usher", res.Jobs[0].Title)
}

func TestResolveNoRendererNoJobs(t *testing.T) {
	t.Parallel()

	client := &stubClient{respond: func(scrape.FetchRequest) (scrape.FetchResponse, error) {
		return scrape.FetchResponse{StatusCode: http.StatusOK, Body: []byte(`<html><body></body></html>`)}, nil
	}}
	r := newTestResolver(t, client, nil)

	_, err := r.Resolve(context.Background(), scrape.NewRunState(time.Now()), scrape.PageRequest{Page: 3})
	require.ErrorIs(t, err, scrape.ErrNoJobs)
}

func TestResolveInternalAPIReturnsJobs(t *testing.T) {
	t.Parallel()

	client := &stubClient{respond: func(req scrape.FetchRequest) (scrape.FetchResponse, error) {
		require.Contains(t, req.URL, "api/search", "first tier answers, nothing else is fetched")
		return scrape.FetchResponse{
			StatusCode: http.StatusOK,
			Body:       []byte(`{"jobs": [{"id": 4, "title": "Barista"}], "totalResults": 21}`),
		}, nil
	}}
	retry := scrape.NewRetryer(1, time.Millisecond, nil)
	r, err := New(client, nil, retry, nil, Config{
		SearchURL:      "https://www.collegerecruiter.com/job-search",
		NextDataURL:    "https://www.collegerecruiter.com/_next/data",
		InternalAPIURL: "https://www.collegerecruiter.com/api/search",
	}, nil)
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), scrape.NewRunState(time.Now()), scrape.PageRequest{Page: 1})
	require.NoError(t, err)
	require.Equal(t, scrape.SourceInternalAPI, res.Source)
	require.Equal(t, 21, res.TotalResults)
	require.Equal(t, "Barista", res.Jobs[0].Title)
	require.Len(t, client.calls, 1)
}

func TestResolveInternalAPIVerificationGate(t *testing.T) {
	t.Parallel()

	client := &stubClient{respond: func(req scrape.FetchRequest) (scrape.FetchResponse, error) {
		if strings.Contains(req.URL, "api/search") {
			return scrape.FetchResponse{
				StatusCode: http.StatusOK,
				Body:       []byte(`{"requiresVerification": true}`),
			}, nil
		}
		return scrape.FetchResponse{StatusCode: http.StatusOK, Body: []byte(hydratedHTML)}, nil
	}}
	retry := scrape.NewRetryer(1, time.Millisecond, nil)
	r, err := New(client, nil, retry, nil, Config{
		SearchURL:      "https://www.collegerecruiter.com/job-search",
		NextDataURL:    "https://www.collegerecruiter.com/_next/data",
		InternalAPIURL: "https://www.collegerecruiter.com/api/search",
	}, nil)
	require.NoError(t, err)

	state := scrape.NewRunState(time.Now())
	res, err := r.Resolve(context.Background(), state, scrape.PageRequest{Page: 1})
	require.NoError(t, err)
	require.Equal(t, scrape.SourceHydratedHTML, res.Source, "gate skips the api tier, not the run")
	require.True(t, state.VerificationRequired())
}
