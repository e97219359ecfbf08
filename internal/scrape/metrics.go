package scrape

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP attempts dispatched through the retry
	// executor, including retries.
	RequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_requests_total",
		Help: "The total number of HTTP request attempts, including retries.",
	})
	// RequestErrorsTotal counts attempts that ended in an error.
	RequestErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_request_errors_total",
		Help: "The total number of failed HTTP request attempts.",
	})
	// TierFallbacksTotal counts escalations from one cascade tier to the next.
	TierFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_tier_fallbacks_total",
		Help: "The total number of cascade tier fallbacks, labeled by the tier that failed.",
	}, []string{"tier"})
	// BlockedResponsesTotal counts hard blocking signals (403, verification gates).
	BlockedResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_blocked_responses_total",
		Help: "The total number of blocking responses observed.",
	})
	// HeadlessRendersTotal counts last-resort browser renders.
	HeadlessRendersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_headless_renders_total",
		Help: "The total number of headless browser renders attempted.",
	})
	// JobsSavedTotal counts accepted, deduplicated records pushed to the sink.
	JobsSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_jobs_saved_total",
		Help: "The total number of job records saved.",
	})
)
