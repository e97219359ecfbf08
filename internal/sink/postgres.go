package sink

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool used for job rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink writes job records into Postgres. Rows are keyed by the
// record identity; re-running a search never duplicates a listing.
type PostgresSink struct {
	pool  execCloser
	table string
}

// NewPostgresSink creates a Postgres-backed sink using the provided config.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresSink{
		pool:  pool,
		table: table,
	}, nil
}

// NewPostgresSinkWithPool constructs a sink from an existing pool
// (primarily for testing).
func NewPostgresSinkWithPool(pool execCloser, table string) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresSink{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresSink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Push inserts one job row.
func (s *PostgresSink) Push(ctx context.Context, rec scrape.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres sink is not configured")
	}
	key := rec.IdentityKey()
	if key == "" {
		return fmt.Errorf("record identity is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	identity,
	job_id,
	title,
	company,
	location,
	salary,
	employment_type,
	description,
	description_html,
	url,
	apply_link,
	date_posted,
	raw_date_text,
	source,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
) ON CONFLICT (identity) DO NOTHING`, s.table)

	args := []any{
		key,
		rec.ID,
		rec.Title,
		rec.Company,
		rec.Location,
		rec.Salary,
		rec.EmploymentType,
		rec.Description,
		rec.DescriptionHTML,
		rec.URL,
		rec.ApplyLink,
		rec.DatePosted,
		rec.RawDateText,
		string(rec.Source),
		rec.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}
