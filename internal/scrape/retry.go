package scrape

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"
)

const maxJitter = 250 * time.Millisecond

// Retryer wraps fallible operations with bounded attempts and exponential
// backoff plus jitter. It does not classify errors: every failure is
// retried up to the budget, and callers decide what a terminal failure
// means for their tier.
type Retryer struct {
	MaxRetries   int
	InitialDelay time.Duration
	Logger       *zap.Logger

	// sleep is swapped out in tests to observe computed delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryer builds a Retryer. maxRetries is the total attempt budget, not
// the count of re-attempts.
func NewRetryer(maxRetries int, initialDelay time.Duration, logger *zap.Logger) *Retryer {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{
		MaxRetries:   maxRetries,
		InitialDelay: initialDelay,
		Logger:       logger,
		sleep:        sleepContext,
	}
}

// Do invokes fn up to MaxRetries times. Every attempt, success or failure,
// increments the run's request counter. On exhaustion the last error is
// returned tagged with the label and attempt count.
func (r *Retryer) Do(ctx context.Context, label string, state *RunState, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s canceled: %w", label, err)
		}
		if state != nil {
			state.CountRequest()
		}
		RequestsTotal.Inc()

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		RequestErrorsTotal.Inc()
		if attempt == r.MaxRetries {
			break
		}

		wait := r.Backoff(attempt)
		r.Logger.Warn("attempt failed, retrying",
			zap.String("op", label),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", r.MaxRetries),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := r.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s canceled during backoff: %w", label, err)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", label, r.MaxRetries, lastErr)
}

// Backoff returns the wait before the attempt following the given one:
// InitialDelay x 1.5^(attempt-1) plus up to 250ms of jitter.
func (r *Retryer) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(r.InitialDelay) * math.Pow(1.5, float64(attempt-1))
	return time.Duration(base) + randomJitter(maxJitter)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
