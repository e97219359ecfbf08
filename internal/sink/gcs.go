package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/storage"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

// GCSConfig captures the parameters required to write run output to a
// Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSSink buffers records in memory as JSON lines and uploads one object
// per run on Flush.
type GCSSink struct {
	client *storage.Client
	bucket string
	object string

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewGCSSink creates a GCS-backed sink. The object name embeds the run
// start time so runs never overwrite each other.
func NewGCSSink(client *storage.Client, cfg GCSConfig, started time.Time) (*GCSSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "runs"
	}
	return &GCSSink{
		client: client,
		bucket: cfg.Bucket,
		object: fmt.Sprintf("%s/%s.jsonl", prefix, started.UTC().Format("20060102T150405Z")),
	}, nil
}

// Push appends one record to the in-memory buffer.
func (s *GCSSink) Push(ctx context.Context, rec scrape.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(line)
	s.buf.WriteByte('\n')
	return nil
}

// Flush uploads the buffered dataset and returns the gs:// URI. Flushing an
// empty buffer is a no-op.
func (s *GCSSink) Flush(ctx context.Context) (string, error) {
	s.mu.Lock()
	data := append([]byte(nil), s.buf.Bytes()...)
	s.mu.Unlock()
	if len(data) == 0 {
		return "", nil
	}

	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = "application/x-ndjson"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("upload dataset: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("upload dataset: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object), nil
}
