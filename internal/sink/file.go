// Package sink provides the destinations accepted records are written to.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

// FileSink appends records to a JSON-lines dataset file and can write the
// run summary next to it.
type FileSink struct {
	dir    string
	logger *zap.Logger

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileSink opens (or creates) dataset.jsonl under dir.
func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "dataset.jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{
		dir:    dir,
		logger: logger,
		file:   file,
		enc:    json.NewEncoder(file),
	}, nil
}

// Push appends one record as a JSON line.
func (s *FileSink) Push(ctx context.Context, rec scrape.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// WriteSummary writes the run summary as summary.json alongside the dataset.
func (s *FileSink) WriteSummary(summary scrape.Summary) error {
	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(s.dir, "summary.json")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write summary %s: %w", path, err)
	}
	s.logger.Info("run summary written", zap.String("path", path))
	return nil
}

// Close flushes and closes the dataset file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close dataset: %w", err)
	}
	return nil
}
