// Package collyfetcher implements the HTTP client using gocolly.
package collyfetcher

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

// Browser identities rotated across requests so the traffic does not
// present a single static fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Config controls collector behavior.
type Config struct {
	Timeout time.Duration
	Referer string
	// MinDelay and MaxDelay bound the randomized pause taken before each
	// request. A zero MaxDelay disables the pause.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Fetcher implements scrape.Client using the Colly collector. Collectors
// are cached per proxy session, each with its own transport, so a
// session's proxy is set exactly once and concurrent requests never
// mutate shared collector state.
type Fetcher struct {
	cfg     Config
	proxies *scrape.ProxyPicker
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*colly.Collector
}

// pendingKey carries the per-request exchange state through the colly
// request context, since hooks are registered once per collector.
const pendingKey = "exchange"

type exchange struct {
	accept   string
	result   *scrape.FetchResponse
	fetchErr *error
}

// New builds a Fetcher. proxies may be nil for direct connections.
func New(cfg Config, proxies *scrape.ProxyPicker, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:      cfg,
		proxies:  proxies,
		logger:   logger,
		sessions: make(map[string]*colly.Collector),
	}
}

// Get executes a single HTTP GET. Non-2xx statuses come back as responses;
// only transport failures return an error.
func (f *Fetcher) Get(ctx context.Context, request scrape.FetchRequest) (scrape.FetchResponse, error) {
	if err := f.pause(ctx); err != nil {
		return scrape.FetchResponse{}, err
	}

	collector, err := f.collectorFor(request.Session)
	if err != nil {
		return scrape.FetchResponse{}, err
	}

	var (
		result   scrape.FetchResponse
		fetchErr error
	)
	reqCtx := colly.NewContext()
	reqCtx.Put(pendingKey, &exchange{
		accept:   request.Accept,
		result:   &result,
		fetchErr: &fetchErr,
	})
	if err := f.runCollector(ctx, collector, request.URL, reqCtx, &result, &fetchErr); err != nil {
		return scrape.FetchResponse{}, err
	}
	return result, nil
}

// collectorFor returns the session's collector, building it on first use.
// The proxy for the session is bound at construction and never touched
// again.
func (f *Fetcher) collectorFor(session string) (*colly.Collector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.sessions[session]; ok {
		return c, nil
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 35 * time.Second
	}
	c.SetRequestTimeout(timeout)

	if f.proxies != nil {
		proxyURL, err := f.proxies.Pick(session)
		if err != nil {
			return nil, fmt.Errorf("pick proxy: %w", err)
		}
		if proxyURL != nil {
			if err := c.SetProxy(proxyURL.String()); err != nil {
				return nil, fmt.Errorf("set proxy: %w", err)
			}
		}
	}

	f.configureCollectorHooks(c)
	f.sessions[session] = c
	return c, nil
}

func (f *Fetcher) configureCollectorHooks(collector *colly.Collector) {
	collector.OnRequest(func(r *colly.Request) {
		ex, ok := r.Ctx.GetAny(pendingKey).(*exchange)
		if !ok {
			return
		}
		accept := ex.accept
		if accept == "" {
			accept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
		}
		r.Headers.Set("User-Agent", pickUserAgent())
		r.Headers.Set("Accept", accept)
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Cache-Control", "no-cache")
		if f.cfg.Referer != "" {
			r.Headers.Set("Referer", f.cfg.Referer)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		ex, ok := r.Ctx.GetAny(pendingKey).(*exchange)
		if !ok {
			return
		}
		*ex.result = scrape.FetchResponse{
			StatusCode: r.StatusCode,
			Header:     r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			FinalURL:   r.Request.URL.String(),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		// Colly routes non-2xx statuses here. Capture them as responses so
		// the caller can classify the status itself.
		ex, ok := r.Ctx.GetAny(pendingKey).(*exchange)
		if !ok {
			return
		}
		if r.StatusCode != 0 {
			*ex.result = scrape.FetchResponse{
				StatusCode: r.StatusCode,
				Header:     r.Headers.Clone(),
				Body:       append([]byte(nil), r.Body...),
				FinalURL:   r.Request.URL.String(),
			}
			return
		}
		*ex.fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	reqCtx *colly.Context,
	result *scrape.FetchResponse,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(http.MethodGet, url, nil, reqCtx, nil)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		// Request also errors on non-2xx; a captured status means the
		// exchange completed and the response stands.
		if err != nil && result.StatusCode == 0 {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// pause sleeps a random interval inside the configured window, honoring
// cancellation.
func (f *Fetcher) pause(ctx context.Context) error {
	if f.cfg.MaxDelay <= 0 || f.cfg.MaxDelay < f.cfg.MinDelay {
		return nil
	}
	delay := f.cfg.MinDelay
	if window := f.cfg.MaxDelay - f.cfg.MinDelay; window > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(window)))
		if err == nil {
			delay += time.Duration(n.Int64())
		}
	}
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func pickUserAgent() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(userAgents))))
	if err != nil {
		return userAgents[0]
	}
	return userAgents[n.Int64()]
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
