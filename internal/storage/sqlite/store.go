// Package sqlite persists validated proxies in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "proxies"

// Config selects the database file and table.
type Config struct {
	Path  string
	Table string
}

// Store implements proxy.Store on SQLite.
type Store struct {
	db    *sql.DB
	table string
}

// Open opens or creates the database at cfg.Path and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The validator writes from one goroutine; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	store, err := NewWithDB(ctx, db, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing handle and creates the table if missing.
func NewWithDB(ctx context.Context, db *sql.DB, table string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	ip TEXT NOT NULL,
	port INTEGER NOT NULL,
	type TEXT NOT NULL,
	response_time INTEGER NOT NULL,
	anonymity_level TEXT NOT NULL,
	country TEXT NOT NULL,
	last_checked TEXT NOT NULL,
	success_rate REAL DEFAULT 1.0,
	category TEXT NOT NULL,
	PRIMARY KEY (ip, port)
)`, table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, table: table}, nil
}

// Upsert inserts rec or overwrites the row with the same (ip, port).
func (s *Store) Upsert(ctx context.Context, rec proxy.Record) error {
	query := fmt.Sprintf(`
INSERT INTO %s (ip, port, type, response_time, anonymity_level, country, last_checked, category)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (ip, port) DO UPDATE SET
	type = excluded.type,
	response_time = excluded.response_time,
	anonymity_level = excluded.anonymity_level,
	country = excluded.country,
	last_checked = excluded.last_checked,
	category = excluded.category`, s.table)
	_, err := s.db.ExecContext(ctx, query,
		rec.IP,
		rec.Port,
		string(rec.Type),
		rec.LatencyMs,
		string(rec.Anonymity),
		rec.Country,
		rec.CheckedAt.UTC().Format(time.RFC3339Nano),
		string(rec.Category),
	)
	if err != nil {
		return fmt.Errorf("upsert proxy %s: %w", rec.Key(), err)
	}
	return nil
}

// All returns every stored proxy ordered by ip and port.
func (s *Store) All(ctx context.Context) ([]proxy.Record, error) {
	query := fmt.Sprintf(`
SELECT ip, port, type, response_time, anonymity_level, country, last_checked, category
FROM %s ORDER BY ip, port`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query proxies: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []proxy.Record
	for rows.Next() {
		var (
			rec                            proxy.Record
			typ, anonymity, category, when string
		)
		if err := rows.Scan(&rec.IP, &rec.Port, &typ, &rec.LatencyMs, &anonymity, &rec.Country, &when, &category); err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		rec.Type = proxy.Type(typ)
		rec.Anonymity = proxy.Anonymity(anonymity)
		rec.Category = proxy.Category(category)
		if rec.CheckedAt, err = time.Parse(time.RFC3339Nano, when); err != nil {
			return nil, fmt.Errorf("parse last_checked for %s: %w", rec.Key(), err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxies: %w", err)
	}
	return out, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
