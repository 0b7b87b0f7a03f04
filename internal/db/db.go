// Package db opens the signreel SQLite database and applies the embedded
// schema migrations.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/signreel/signreel/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pragmas apply to the single pooled connection.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens (creating if needed) the database at dbPath, brings the schema
// up to date and fails renders a previous process left running.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection keeps pragmas and avoids SQLITE_BUSY
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	d := &DB{conn: conn, logger: logger}
	if err := d.init(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) init(ctx context.Context) error {
	if err := d.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	for _, p := range pragmas {
		if _, err := d.conn.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}
	if err := d.migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	n, err := d.failInterruptedRenders(ctx)
	switch {
	case err != nil:
		d.logger.Warn("failed to mark interrupted renders", "error", err)
	case n > 0:
		d.logger.Info("marked interrupted renders", "count", n)
	}
	return nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

// migrate applies every embedded migration not yet recorded in _migrations,
// in file name order, each in its own transaction.
func (d *DB) migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	slices.Sort(names)

	applied, err := d.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, path := range names {
		name := strings.TrimPrefix(path, "migrations/")
		if applied[name] {
			continue
		}
		body, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := d.apply(ctx, name, string(body)); err != nil {
			return err
		}
		d.logger.Info("applied migration", "name", name)
	}
	return nil
}

func (d *DB) apply(ctx context.Context, name, body string) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// appliedMigrations returns the recorded migration names. A fresh database
// has no _migrations table yet and yields an empty set.
func (d *DB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	var n int
	if err := d.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = '_migrations'").Scan(&n); err != nil {
		return nil, err
	}
	applied := make(map[string]bool)
	if n == 0 {
		return applied, nil
	}

	rows, err := d.conn.QueryContext(ctx, "SELECT name FROM _migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// failInterruptedRenders fails renders left running by a previous process.
func (d *DB) failInterruptedRenders(ctx context.Context) (int64, error) {
	res, err := d.conn.ExecContext(ctx, `
		UPDATE renders
		SET status = 'failed', error_kind = 'fatal', error = 'interrupted by restart', updated_at = datetime('now')
		WHERE status = 'running'
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
