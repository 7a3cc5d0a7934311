// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "proxies"

// StoreConfig controls the Postgres connection pool used for proxy rows.
type StoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store writes validated proxies into Postgres.
type Store struct {
	pool  queryExecCloser
	table string
}

// NewStore creates a Postgres-backed Store using the provided config and
// ensures the table exists.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres_dsn is required")
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
	store, err := NewStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool queryExecCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// EnsureSchema creates the proxies table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	ip TEXT NOT NULL,
	port INTEGER NOT NULL,
	type TEXT NOT NULL,
	response_time BIGINT NOT NULL,
	anonymity_level TEXT NOT NULL,
	country TEXT NOT NULL,
	last_checked TIMESTAMPTZ NOT NULL,
	success_rate DOUBLE PRECISION DEFAULT 1.0,
	category TEXT NOT NULL,
	PRIMARY KEY (ip, port)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create proxies table: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Upsert inserts rec or overwrites the row with the same (ip, port).
func (s *Store) Upsert(ctx context.Context, rec proxy.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("proxy store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	ip,
	port,
	type,
	response_time,
	anonymity_level,
	country,
	last_checked,
	category
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (ip, port) DO UPDATE SET
	type = EXCLUDED.type,
	response_time = EXCLUDED.response_time,
	anonymity_level = EXCLUDED.anonymity_level,
	country = EXCLUDED.country,
	last_checked = EXCLUDED.last_checked,
	category = EXCLUDED.category`, s.table)

	args := []any{
		rec.IP,
		rec.Port,
		string(rec.Type),
		rec.LatencyMs,
		string(rec.Anonymity),
		rec.Country,
		rec.CheckedAt.UTC(),
		string(rec.Category),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert proxy %s: %w", rec.Key(), err)
	}
	return nil
}

// All returns every stored proxy ordered by ip and port.
func (s *Store) All(ctx context.Context) ([]proxy.Record, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("proxy store is not configured")
	}
	query := fmt.Sprintf(`
SELECT ip, port, type, response_time, anonymity_level, country, last_checked, category
FROM %s ORDER BY ip, port`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query proxies: %w", err)
	}
	defer rows.Close()

	var out []proxy.Record
	for rows.Next() {
		var (
			rec                      proxy.Record
			typ, anonymity, category string
		)
		if err := rows.Scan(&rec.IP, &rec.Port, &typ, &rec.LatencyMs, &anonymity, &rec.Country, &rec.CheckedAt, &category); err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		rec.Type = proxy.Type(typ)
		rec.Anonymity = proxy.Anonymity(anonymity)
		rec.Category = proxy.Category(category)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxies: %w", err)
	}
	return out, nil
}
