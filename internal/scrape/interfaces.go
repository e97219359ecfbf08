package scrape

import (
	"context"
	"net/http"
	"time"
)

// FetchRequest describes one HTTP exchange. Session selects the sticky
// proxy identity; requests sharing a session exit through the same IP.
type FetchRequest struct {
	URL     string
	Session string
	Accept  string
}

// FetchResponse carries the raw exchange outcome. Non-2xx statuses are
// returned here, not as errors; only transport failures error out so the
// cascade can classify status codes itself.
type FetchResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// Client performs HTTP fetches for the cascade's network tiers.
type Client interface {
	Get(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Renderer drives a real browser as the last-resort tier and returns the
// hydration payload JSON extracted from the rendered document.
type Renderer interface {
	RenderPayload(ctx context.Context, url string) ([]byte, error)
}

// PageResolver resolves one page of search results, whatever strategy that
// takes.
type PageResolver interface {
	Resolve(ctx context.Context, state *RunState, req PageRequest) (PageResult, error)
}

// Sink receives accepted canonical records, one call per record.
type Sink interface {
	Push(ctx context.Context, rec Record) error
}

// Publisher pushes run-completion events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (swapped for a fake in tests).
type Clock interface {
	Now() time.Time
}
