package sink

import (
	"context"
	"sync"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

// MemorySink keeps records in memory. Used in tests.
type MemorySink struct {
	mu      sync.Mutex
	records []scrape.Record
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Push stores the record.
func (s *MemorySink) Push(_ context.Context, rec scrape.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything pushed so far.
func (s *MemorySink) Records() []scrape.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scrape.Record(nil), s.records...)
}
