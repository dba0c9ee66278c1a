// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ashwin-z/savereelify.com/internal/media"
)

const defaultTable = "fetch_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FetchStoreConfig controls the Postgres connection pool used for fetch records.
type FetchStoreConfig struct {
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

// FetchStore writes fetch audit rows into Postgres.
type FetchStore struct {
	pool  execCloser
	table string
}

// NewFetchStore connects to Postgres using cfg.
func NewFetchStore(ctx context.Context, cfg FetchStoreConfig) (*FetchStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &FetchStore{pool: pool, table: table}, nil
}

// NewFetchStoreWithPool constructs a store from an existing pool.
func NewFetchStoreWithPool(pool execCloser, table string) (*FetchStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &FetchStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the fetch record table when it does not exist.
func (s *FetchStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	post_type    TEXT NOT NULL,
	success      BOOLEAN NOT NULL,
	code         TEXT NOT NULL,
	download_url TEXT NOT NULL,
	media_type   TEXT NOT NULL,
	cache_hit    BOOLEAN NOT NULL,
	duration_ms  BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// SaveFetch inserts a fetch record.
func (s *FetchStore) SaveFetch(ctx context.Context, rec media.FetchRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("fetch store is not configured")
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	url,
	post_type,
	success,
	code,
	download_url,
	media_type,
	cache_hit,
	duration_ms,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		rec.ID,
		rec.URL,
		string(rec.Type),
		rec.Success,
		string(rec.Code),
		rec.DownloadURL,
		string(rec.MediaType),
		rec.CacheHit,
		rec.Duration.Milliseconds(),
		rec.CreatedAt.UTC(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert fetch record: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *FetchStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
