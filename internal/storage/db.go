package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/curatelabs/selection-engine/internal/config"
)

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		dsn := cfg.SQLite.Path
		if cfg.SQLite.JournalMode != "" {
			dsn += "?_journal_mode=" + cfg.SQLite.JournalMode
		}
		db, err = sql.Open("sqlite3", dsn)
		if err == nil && cfg.SQLite.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.SQLite.MaxOpenConns)
		}
	case "postgres":
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err == nil {
			if cfg.Postgres.MaxOpenConns > 0 {
				db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
			}
			if cfg.Postgres.MaxIdleConns > 0 {
				db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
			}
			if cfg.Postgres.ConnMaxLifetime > 0 {
				db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// schema uses portable SQL so the same statements run on both drivers.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		shop_ref TEXT NOT NULL,
		request_text TEXT NOT NULL DEFAULT '',
		requested_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'PROCESSING',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS selection_results (
		session_key TEXT PRIMARY KEY,
		identifiers TEXT NOT NULL DEFAULT '[]',
		source TEXT NOT NULL DEFAULT '',
		budget_exceeded BOOLEAN,
		total_price REAL NOT NULL DEFAULT 0,
		reasoning TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		error_code TEXT NOT NULL DEFAULT '',
		rerank_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS billing_entries (
		id TEXT PRIMARY KEY,
		session_key TEXT NOT NULL,
		delivered_count INTEGER NOT NULL,
		credits_charged INTEGER NOT NULL,
		overage_delta INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_shop ON sessions(shop_ref)`,
	`CREATE INDEX IF NOT EXISTS idx_billing_session ON billing_entries(session_key)`,
}

// EnsureSchema creates the tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for Postgres. SQLite takes them
// as-is.
func rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
