// Package postgres provides Postgres-backed persistence for pipeline run
// history.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRunNotFound means no run row exists for the requested id.
var ErrRunNotFound = errors.New("run not found")

// RunStoreConfig controls the Postgres connection pool.
type RunStoreConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RunRow is one pipeline run.
type RunRow struct {
	ID         string
	SitemapURL string
	Autonomous bool
	StartedAt  time.Time
	FinishedAt *time.Time
	Total      int
	Completed  int
	Published  int
	Failed     int
}

// PageRow is one per-page outcome within a run.
type PageRow struct {
	RunID       string
	URL         string
	PostID      int
	Outcome     string
	ASIN        string
	Confidence  int
	ErrorText   string
	CompletedAt time.Time
}

type dbIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore persists runs and their page outcomes.
type RunStore struct {
	db dbIface
}

// NewRunStore connects a pool from the config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &RunStore{db: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool, primarily for
// testing.
func NewRunStoreWithPool(db dbIface) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// CreateRun inserts the run header row.
func (s *RunStore) CreateRun(ctx context.Context, run RunRow) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	query := `
INSERT INTO runs (run_id, sitemap_url, autonomous, started_at, total)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.Exec(ctx, query,
		run.ID, run.SitemapURL, run.Autonomous, run.StartedAt, run.Total); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the terminal counts for a run.
func (s *RunStore) FinishRun(ctx context.Context, run RunRow) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	query := `
UPDATE runs
SET finished_at = $2, completed = $3, published = $4, failed = $5
WHERE run_id = $1`
	tag, err := s.db.Exec(ctx, query,
		run.ID, run.FinishedAt, run.Completed, run.Published, run.Failed)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// RecordPage inserts one page outcome row.
func (s *RunStore) RecordPage(ctx context.Context, page PageRow) error {
	if page.RunID == "" || page.URL == "" {
		return fmt.Errorf("run id and url are required")
	}
	query := `
INSERT INTO run_pages (run_id, url, post_id, outcome, asin, confidence, error_text, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.db.Exec(ctx, query,
		page.RunID, page.URL, page.PostID, page.Outcome,
		page.ASIN, page.Confidence, page.ErrorText, page.CompletedAt); err != nil {
		return fmt.Errorf("insert page outcome: %w", err)
	}
	return nil
}

// GetRun returns the run header and its page outcomes.
func (s *RunStore) GetRun(ctx context.Context, runID string) (RunRow, []PageRow, error) {
	var run RunRow
	query := `
SELECT run_id, sitemap_url, autonomous, started_at, finished_at, total, completed, published, failed
FROM runs
WHERE run_id = $1`
	err := s.db.QueryRow(ctx, query, runID).Scan(
		&run.ID, &run.SitemapURL, &run.Autonomous, &run.StartedAt, &run.FinishedAt,
		&run.Total, &run.Completed, &run.Published, &run.Failed)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunRow{}, nil, ErrRunNotFound
	}
	if err != nil {
		return RunRow{}, nil, fmt.Errorf("select run: %w", err)
	}

	pagesQuery := `
SELECT run_id, url, post_id, outcome, asin, confidence, error_text, completed_at
FROM run_pages
WHERE run_id = $1
ORDER BY completed_at`
	rows, err := s.db.Query(ctx, pagesQuery, runID)
	if err != nil {
		return RunRow{}, nil, fmt.Errorf("select run pages: %w", err)
	}
	defer rows.Close()

	var pages []PageRow
	for rows.Next() {
		var p PageRow
		if err := rows.Scan(&p.RunID, &p.URL, &p.PostID, &p.Outcome,
			&p.ASIN, &p.Confidence, &p.ErrorText, &p.CompletedAt); err != nil {
			return RunRow{}, nil, fmt.Errorf("scan page outcome: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return RunRow{}, nil, fmt.Errorf("iterate page outcomes: %w", err)
	}
	return run, pages, nil
}
