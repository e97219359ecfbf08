// Package headless renders search pages with a real browser when the plain
// HTTP tiers are blocked, and extracts the hydration payload from the
// rendered document.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/hiredeck/collegerecruiter-scraper/internal/extract"
	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

const sessionHeadless = "headless"

// Masks the obvious automation tells before any page script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
window.chrome = window.chrome || { runtime: {} };
`

// ResourcePolicy decides which subresource requests the browser is allowed
// to make. Blocking heavy and tracking resources keeps renders fast and
// cuts proxy bandwidth.
type ResourcePolicy struct {
	BlockedResourceTypes    []string
	BlockedDomainSubstrings []string
}

// Blocks reports whether a request of the given resource type to the given
// URL should be aborted.
func (p ResourcePolicy) Blocks(resourceType, requestURL string) bool {
	for _, t := range p.BlockedResourceTypes {
		if strings.EqualFold(t, resourceType) {
			return true
		}
	}
	lower := strings.ToLower(requestURL)
	for _, d := range p.BlockedDomainSubstrings {
		if d != "" && strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

// Config controls the renderer.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is the pause after the document is ready, giving the
	// client-side runtime time to attach its state.
	SettleDelay time.Duration
}

// Renderer implements scrape.Renderer with chromedp. Every render launches
// a fresh browser so no profile state accumulates across attempts.
type Renderer struct {
	cfg     Config
	policy  ResourcePolicy
	proxies *scrape.ProxyPicker
	logger  *zap.Logger
}

// New creates a Renderer. proxies may be nil for direct connections.
func New(cfg Config, policy ResourcePolicy, proxies *scrape.ProxyPicker, logger *zap.Logger) *Renderer {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{cfg: cfg, policy: policy, proxies: proxies, logger: logger}
}

// RenderPayload navigates to the URL in a headless browser and returns the
// raw hydration payload JSON from the rendered document.
func (r *Renderer) RenderPayload(ctx context.Context, pageURL string) ([]byte, error) {
	proxyURL, err := r.proxyFor(sessionHeadless)
	if err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", true),
	)
	if proxyURL != nil {
		opts = append(opts, chromedp.ProxyServer(proxyURL.Host))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			meta.capture(e)
		case *fetch.EventRequestPaused:
			go r.resolvePaused(taskCtx, e)
		}
	})

	payload, err := r.runRender(taskCtx, pageURL)
	if err != nil {
		return nil, err
	}
	if status := meta.status(); status >= http.StatusBadRequest {
		if status == http.StatusForbidden {
			return nil, fmt.Errorf("rendered document: %w", scrape.ErrBlocked)
		}
		return nil, fmt.Errorf("rendered document returned status %d", status)
	}
	if len(payload) == 0 {
		return nil, scrape.ErrPayloadMissing
	}
	return payload, nil
}

func (r *Renderer) runRender(ctx context.Context, pageURL string) ([]byte, error) {
	var payload string
	actions := []chromedp.Action{
		r.setupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		r.readPayloadAction(&payload),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	if strings.TrimSpace(payload) != "" {
		return []byte(payload), nil
	}

	// The app state can attach late under a challenge; one reload after the
	// cookies from the first pass usually clears it.
	r.logger.Debug("hydration payload missing after first render, reloading")
	if err := chromedp.Run(ctx,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		r.readPayloadAction(&payload),
	); err != nil {
		return nil, fmt.Errorf("chromedp reload: %w", err)
	}
	return []byte(strings.TrimSpace(payload)), nil
}

// setupAction enables request interception, installs the stealth script and
// overrides the user agent before navigation.
func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := fetch.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable fetch domain: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// readPayloadAction reads the hydration script tag's content, falling back
// to a scan of the serialized document when the DOM query comes up empty.
func (r *Renderer) readPayloadAction(payload *string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		err := chromedp.Evaluate(
			`document.querySelector('#__NEXT_DATA__')?.textContent || ''`,
			payload,
		).Do(ctx)
		if err != nil {
			return fmt.Errorf("read hydration payload: %w", err)
		}
		if strings.TrimSpace(*payload) != "" {
			return nil
		}
		var html string
		if err := chromedp.OuterHTML("html", &html, chromedp.ByQuery).Do(ctx); err != nil {
			return fmt.Errorf("read rendered document: %w", err)
		}
		*payload = string(extract.FindNextDataScript([]byte(html)))
		return nil
	})
}

// resolvePaused fails or continues an intercepted request per the policy.
// Runs on its own goroutine; interception stalls the page until answered.
func (r *Renderer) resolvePaused(taskCtx context.Context, ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(taskCtx)
	execCtx := cdp.WithExecutor(taskCtx, c.Target)

	if r.policy.Blocks(ev.ResourceType.String(), ev.Request.URL) {
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
			r.logger.Debug("failing intercepted request", zap.Error(err))
		}
		return
	}
	if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil {
		r.logger.Debug("continuing intercepted request", zap.Error(err))
	}
}

func (r *Renderer) proxyFor(session string) (*url.URL, error) {
	if r.proxies == nil {
		return nil, nil
	}
	proxyURL, err := r.proxies.Pick(session)
	if err != nil {
		return nil, fmt.Errorf("pick proxy: %w", err)
	}
	return proxyURL, nil
}

// responseMeta records the main document's response status from CDP
// network events.
type responseMeta struct {
	mu         sync.RWMutex
	statusCode int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.statusCode = int(event.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusCode
}
