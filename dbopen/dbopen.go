// Package dbopen opens the SQLite databases behind domsig with the pragmas
// the stores rely on, and brings their schema up to date.
//
// The pragmas are passed as _pragma DSN parameters, so every pooled
// connection gets them:
//
//	foreign_keys = ON      (sig_nodes cascade with their report)
//	journal_mode = WAL     (HTTP readers run beside the tracker's writes)
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// The modernc.org/sqlite driver is registered by this package.
//
//	db, err := dbopen.Open("domsig.db", dbopen.WithMigrations(store.Migrations...))
//
// In tests:
//
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const driverName = "sqlite"

type options struct {
	busyTimeout int
	mkdirAll    bool
	schemas     []string
	migrations  []string
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeout = ms } }

// WithMkdirAll creates the parent directories of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// WithSchema executes idempotent DDL after the pragmas, on every open.
func WithSchema(ddl string) Option { return func(o *options) { o.schemas = append(o.schemas, ddl) } }

// WithMigrations applies numbered schema steps. Step i brings the database
// to user_version i+1; steps at or below the current version are skipped.
func WithMigrations(steps ...string) Option {
	return func(o *options) { o.migrations = append(o.migrations, steps...) }
}

// Open opens the SQLite database at path.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeout: 10_000}
	for _, fn := range opts {
		fn(&o)
	}

	memory := path == ":memory:"
	if o.mkdirAll && !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open(driverName, dsn(path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	// Each connection to ":memory:" would be a separate database.
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := setup(db, &o); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func dsn(path string, busyTimeout int) string {
	return fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busyTimeout)
}

func setup(db *sql.DB, o *options) error {
	// sql.Open is lazy; the first statement surfaces bad paths and pragmas.
	if err := db.Ping(); err != nil {
		return fmt.Errorf("dbopen: ping: %w", err)
	}
	for _, ddl := range o.schemas {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("dbopen: schema: %w", err)
		}
	}
	if len(o.migrations) > 0 {
		if err := migrate(context.Background(), db, o.migrations); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns PRAGMA user_version.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("dbopen: user_version: %w", err)
	}
	return v, nil
}

func migrate(ctx context.Context, db *sql.DB, steps []string) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > len(steps) {
		return fmt.Errorf("dbopen: database schema version %d is newer than this binary (%d)", current, len(steps))
	}
	for i := current; i < len(steps); i++ {
		err := RunTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(steps[i]); err != nil {
				return err
			}
			// PRAGMA does not accept bound parameters.
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1))
			return err
		})
		if err != nil {
			return fmt.Errorf("dbopen: migration %d: %w", i+1, err)
		}
	}
	return nil
}

// OpenMemory opens an in-memory database closed through t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
