// Package postgres provides the Postgres-backed capture ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/linkcapture/internal/capture"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrNotFound is returned when no ledger row matches.
var ErrNotFound = capture.ErrLinkNotFound

// LedgerStoreConfig controls the Postgres connection pool used for ledger rows.
type LedgerStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// LedgerStore writes one row per published link.
type LedgerStore struct {
	pool  pool
	table string
}

var _ capture.Ledger = (*LedgerStore)(nil)

// NewLedgerStore creates a Postgres-backed LedgerStore using the provided config.
func NewLedgerStore(ctx context.Context, cfg LedgerStoreConfig) (*LedgerStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LedgerStore{pool: p, table: table}, nil
}

// NewLedgerStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewLedgerStoreWithPool(p pool, table string) (*LedgerStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &LedgerStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "link_captures"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *LedgerStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Record inserts a ledger row. A repeated ID is ignored.
func (s *LedgerStore) Record(ctx context.Context, entry capture.LedgerEntry) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("ledger store is not configured")
	}
	if entry.ID == "" {
		return fmt.Errorf("entry id is required")
	}
	files := entry.Files
	if files == nil {
		files = []string{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	slug,
	url,
	title,
	commit_sha,
	branch,
	files,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (id) DO NOTHING`, s.table)

	args := []any{
		entry.ID,
		entry.Slug,
		entry.URL,
		entry.Title,
		entry.CommitSHA,
		entry.Branch,
		files,
		entry.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// BySlug returns the most recent ledger row for slug.
func (s *LedgerStore) BySlug(ctx context.Context, slug string) (capture.LedgerEntry, error) {
	if s == nil || s.pool == nil {
		return capture.LedgerEntry{}, fmt.Errorf("ledger store is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, slug, url, title, commit_sha, branch, files, created_at
FROM %s
WHERE slug = $1
ORDER BY created_at DESC
LIMIT 1`, s.table)

	var e capture.LedgerEntry
	err := s.pool.QueryRow(ctx, query, slug).Scan(
		&e.ID,
		&e.Slug,
		&e.URL,
		&e.Title,
		&e.CommitSHA,
		&e.Branch,
		&e.Files,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capture.LedgerEntry{}, ErrNotFound
		}
		return capture.LedgerEntry{}, fmt.Errorf("select ledger entry: %w", err)
	}
	return e, nil
}
