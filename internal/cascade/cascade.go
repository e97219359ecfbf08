// Package cascade implements the ordered fetch-strategy resolver: internal
// API, versioned JSON endpoint, server-rendered HTML, then a headless
// browser render. The first strategy yielding a non-empty job list wins.
package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/hiredeck/collegerecruiter-scraper/internal/extract"
	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

// Session labels for the per-tier sticky proxy channels.
const (
	sessionSearchAPI  = "search-api"
	sessionSearchJSON = "search-json"
	sessionSearchHTML = "search-html"
)

// Config locates the site's endpoints. InternalAPIURL is optional; the
// first tier is skipped when it is empty.
type Config struct {
	SearchURL      string
	NextDataURL    string
	InternalAPIURL string
}

// Resolver tries the fetch strategies in order for one page of results.
// Each tier runs under its own retry budget so a transient failure in one
// tier is not mistaken for the tier being unavailable.
type Resolver struct {
	client   scrape.Client
	renderer scrape.Renderer
	retry    *scrape.Retryer
	clock    scrape.Clock
	cfg      Config
	logger   *zap.Logger
	baseURL  string
}

// New constructs a Resolver. renderer may be nil, which disables the
// last-resort tier.
func New(
	client scrape.Client,
	renderer scrape.Renderer,
	retry *scrape.Retryer,
	clock scrape.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Resolver, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if retry == nil {
		return nil, fmt.Errorf("retryer is required")
	}
	if cfg.SearchURL == "" {
		return nil, fmt.Errorf("search url is required")
	}
	parsed, err := url.Parse(cfg.SearchURL)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client:   client,
		renderer: renderer,
		retry:    retry,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		baseURL:  parsed.Scheme + "://" + parsed.Host,
	}, nil
}

// apiResponse is the internal search endpoint's shape. The verification
// flag is the site's challenge gate signal.
type apiResponse struct {
	Jobs                 []scrape.RawJob `json:"jobs"`
	TotalResults         int             `json:"totalResults"`
	RequiresVerification bool            `json:"requiresVerification"`
}

// Resolve runs the cascade for one page request. It returns ErrNoJobs when
// every tier is exhausted without yielding jobs.
func (r *Resolver) Resolve(ctx context.Context, state *scrape.RunState, req scrape.PageRequest) (scrape.PageResult, error) {
	params := req.Query.Params(req.Page)
	searchURL := r.cfg.SearchURL + "?" + params.Encode()

	if r.cfg.InternalAPIURL != "" {
		if res, ok := r.tryInternalAPI(ctx, state, params, searchURL); ok {
			return res, nil
		}
		scrape.TierFallbacksTotal.WithLabelValues(string(scrape.SourceInternalAPI)).Inc()
	}

	if buildID := state.BuildID(); buildID != "" {
		if res, ok := r.tryBuildID(ctx, state, buildID, params, searchURL); ok {
			return res, nil
		}
		scrape.TierFallbacksTotal.WithLabelValues(string(scrape.SourceJSONAPI)).Inc()
	}

	var (
		htmlStatus int
		htmlBody   []byte
	)
	if res, ok := r.tryHTML(ctx, state, searchURL, &htmlStatus, &htmlBody); ok {
		return res, nil
	}
	scrape.TierFallbacksTotal.WithLabelValues(string(scrape.SourceHydratedHTML)).Inc()

	if r.shouldRender(htmlStatus, htmlBody, state) {
		if res, ok := r.tryRender(ctx, searchURL); ok {
			return res, nil
		}
	}

	return scrape.PageResult{}, fmt.Errorf("page %d: %w", req.Page, scrape.ErrNoJobs)
}

func (r *Resolver) tryInternalAPI(ctx context.Context, state *scrape.RunState, params url.Values, searchURL string) (scrape.PageResult, bool) {
	var resp scrape.FetchResponse
	err := r.retry.Do(ctx, "internal api request", state, func(ctx context.Context) error {
		var fetchErr error
		resp, fetchErr = r.client.Get(ctx, scrape.FetchRequest{
			URL:     r.cfg.InternalAPIURL + "?" + params.Encode(),
			Session: sessionSearchAPI,
			Accept:  "application/json",
		})
		return fetchErr
	})
	if err != nil {
		r.logger.Warn("internal api lookup failed", zap.Error(err))
		return scrape.PageResult{}, false
	}

	var payload apiResponse
	decodeErr := json.Unmarshal(resp.Body, &payload)
	if decodeErr == nil && payload.RequiresVerification {
		state.MarkVerificationRequired()
		scrape.BlockedResponsesTotal.Inc()
		r.logger.Warn("internal api raised a verification gate")
		return scrape.PageResult{}, false
	}
	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("internal api responded with error status", zap.Int("status", resp.StatusCode))
		if resp.StatusCode == http.StatusForbidden {
			scrape.BlockedResponsesTotal.Inc()
		}
		return scrape.PageResult{}, false
	}
	if decodeErr != nil {
		r.logger.Warn("internal api payload malformed", zap.Error(decodeErr))
		return scrape.PageResult{}, false
	}
	if len(payload.Jobs) == 0 {
		return scrape.PageResult{}, false
	}
	return scrape.PageResult{
		Jobs:         payload.Jobs,
		TotalResults: payload.TotalResults,
		Source:       scrape.SourceInternalAPI,
		URL:          searchURL,
	}, true
}

func (r *Resolver) tryBuildID(ctx context.Context, state *scrape.RunState, buildID string, params url.Values, searchURL string) (scrape.PageResult, bool) {
	dataURL := fmt.Sprintf("%s/%s/job-search.json?%s", r.cfg.NextDataURL, buildID, params.Encode())

	var resp scrape.FetchResponse
	err := r.retry.Do(ctx, "json api request", state, func(ctx context.Context) error {
		var fetchErr error
		resp, fetchErr = r.client.Get(ctx, scrape.FetchRequest{
			URL:     dataURL,
			Session: sessionSearchJSON,
			Accept:  "application/json",
		})
		return fetchErr
	})
	if err != nil {
		// Transport-level exhaustion: the token may be fine, but rather than
		// hammer a dead fast path on every page, rediscover it.
		r.logger.Warn("json api lookup failed", zap.Error(err))
		state.InvalidateBuildID()
		return scrape.PageResult{}, false
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		payload, parseErr := extract.ParseNextData(resp.Body)
		if parseErr != nil {
			r.logger.Warn("json api payload malformed", zap.Error(parseErr))
			return scrape.PageResult{}, false
		}
		if len(payload.Jobs) == 0 {
			return scrape.PageResult{}, false
		}
		return scrape.PageResult{
			Jobs:         payload.Jobs,
			TotalResults: payload.TotalResults,
			Source:       scrape.SourceJSONAPI,
			BuildID:      buildID,
			URL:          searchURL,
		}, true
	case resp.StatusCode == http.StatusNotFound:
		// The deployed site moved on; the token is stale, not the site broken.
		r.logger.Info("json api build token is stale, rediscovering",
			zap.String("build_id", buildID),
			zap.Error(scrape.ErrStaleBuildID))
		state.InvalidateBuildID()
		return scrape.PageResult{}, false
	default:
		r.logger.Warn("json api responded with error status", zap.Int("status", resp.StatusCode))
		return scrape.PageResult{}, false
	}
}

func (r *Resolver) tryHTML(ctx context.Context, state *scrape.RunState, searchURL string, lastStatus *int, htmlBody *[]byte) (scrape.PageResult, bool) {
	var resp scrape.FetchResponse
	err := r.retry.Do(ctx, "search html request", state, func(ctx context.Context) error {
		var fetchErr error
		resp, fetchErr = r.client.Get(ctx, scrape.FetchRequest{
			URL:     searchURL,
			Session: sessionSearchHTML,
		})
		return fetchErr
	})
	if err != nil {
		r.logger.Warn("search html request failed", zap.Error(err))
		return scrape.PageResult{}, false
	}
	*lastStatus = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("search html request returned error status", zap.Int("status", resp.StatusCode))
		if resp.StatusCode == http.StatusForbidden {
			scrape.BlockedResponsesTotal.Inc()
		}
		return scrape.PageResult{}, false
	}
	*htmlBody = resp.Body

	payload, parseErr := extract.NextDataFromHTML(resp.Body)
	if parseErr != nil {
		r.logger.Warn("hydration payload parse failed", zap.Error(parseErr))
	}
	if payload != nil {
		if payload.BuildID != "" {
			state.SetBuildID(payload.BuildID)
		}
		if len(payload.Jobs) > 0 {
			return scrape.PageResult{
				Jobs:         payload.Jobs,
				TotalResults: payload.TotalResults,
				Source:       scrape.SourceHydratedHTML,
				BuildID:      payload.BuildID,
				URL:          searchURL,
			}, true
		}
	}

	jobs, cardErr := extract.ParseJobCards(resp.Body, r.baseURL, r.now())
	if cardErr != nil {
		r.logger.Warn("job card parse failed", zap.Error(cardErr))
		return scrape.PageResult{}, false
	}
	if len(jobs) == 0 {
		return scrape.PageResult{}, false
	}
	return scrape.PageResult{
		Jobs:         jobs,
		TotalResults: len(jobs),
		Source:       scrape.SourceHTMLParse,
		URL:          searchURL,
	}, true
}

// shouldRender gates the expensive browser tier: only heavy blocking, a
// bodyless response, or an observed verification gate justify it.
func (r *Resolver) shouldRender(htmlStatus int, htmlBody []byte, state *scrape.RunState) bool {
	if r.renderer == nil {
		return false
	}
	return htmlStatus == http.StatusForbidden || len(htmlBody) == 0 || state.VerificationRequired()
}

func (r *Resolver) tryRender(ctx context.Context, searchURL string) (scrape.PageResult, bool) {
	r.logger.Info("escalating to headless browser render", zap.String("url", searchURL))
	scrape.HeadlessRendersTotal.Inc()

	raw, err := r.renderer.RenderPayload(ctx, searchURL)
	if err != nil {
		r.logger.Warn("headless render failed", zap.Error(err))
		return scrape.PageResult{}, false
	}
	payload, err := extract.ParseNextData(raw)
	if err != nil {
		r.logger.Warn("rendered hydration payload malformed", zap.Error(err))
		return scrape.PageResult{}, false
	}
	if len(payload.Jobs) == 0 {
		return scrape.PageResult{}, false
	}
	return scrape.PageResult{
		Jobs:         payload.Jobs,
		TotalResults: payload.TotalResults,
		Source:       scrape.SourcePlaywrightJSON,
		BuildID:      payload.BuildID,
		URL:          searchURL,
	}, true
}

func (r *Resolver) now() time.Time {
	if r.clock != nil {
		return r.clock.Now()
	}
	return time.Now()
}
