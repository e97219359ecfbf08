package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

func TestFileSinkWritesJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileSink(dir, nil)
	require.NoError(t, err)

	records := []scrape.Record{
		{ID: "1", Title: "First", Source: scrape.SourceJSONAPI},
		{ID: "2", Title: "Second", Source: scrape.SourceHTMLParse},
	}
	for _, rec := range records {
		require.NoError(t, s.Push(context.Background(), rec))
	}
	require.NoError(t, s.Close())

	f, err := os.Open(filepath.Join(dir, "dataset.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var got []scrape.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec scrape.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		got = append(got, rec)
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, records, got)
}

func TestFileSinkWriteSummary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileSink(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	summary := scrape.Summary{JobsSaved: 7, PagesProcessed: 2, RuntimeSeconds: 12.5, Success: true}
	require.NoError(t, s.WriteSummary(summary))

	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)

	var got scrape.Summary
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, summary, got)
}

func TestFileSinkCanceledContext(t *testing.T) {
	t.Parallel()

	s, err := NewFileSink(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.Push(ctx, scrape.Record{ID: "1"}))
}
