package scrape

import (
	"context"
	"fmt"
)

// Limiter caps how many submitted tasks run at once. Excess submissions
// block on the semaphore channel; the runtime wakes blocked senders in
// arrival order, which gives the queue its FIFO admission. A Limiter with
// capacity 1 doubles as a serialization point.
type Limiter struct {
	sem chan struct{}
}

// NewLimiter returns a limiter admitting at most n concurrent tasks.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: make(chan struct{}, n)}
}

// Do runs fn once a slot is free, or returns early if the context ends
// while waiting. The slot is always released, panic or not.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("limiter wait canceled: %w", ctx.Err())
	}
	defer func() { <-l.sem }()
	return fn()
}
