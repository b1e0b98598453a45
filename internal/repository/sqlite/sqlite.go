// Package sqlite implements the repository interfaces on top of SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the server builds
// without a C toolchain. The database is a single file (DB_PATH); tests use
// ":memory:".
//
// DATABASE/SQL RECAP:
//   - sql.DB   is a connection pool, not a single connection
//   - QueryRowContext + Scan for one row, QueryContext + rows.Next for many
//   - always defer rows.Close()
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/sakif/plantdoc/internal/repository"
	"github.com/sakif/plantdoc/internal/repository/migrations"
)

// compile-time check that *DB satisfies the full store interface
var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and implements the user and history
// repositories.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and applies the
// embedded migrations.
func New(ctx context.Context, dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// PRAGMAs are per connection and every connection to ":memory:" gets its
	// own private database, so the pool holds exactly one connection. SQLite
	// serializes writers anyway.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// Foreign keys are off by default in SQLite; history entries
	// reference users, so turn them on.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if err := migrations.Up(ctx, conn, migrations.SQLite); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the connection pool. Call it once the history recorder has
// drained, otherwise pending appends fail.
func (db *DB) Close() error {
	return db.conn.Close()
}
