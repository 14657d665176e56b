package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	_ "modernc.org/sqlite"
)

// Supported database/sql driver names. "sqlite" is the pure-Go driver and the default;
// "sqlite3" is the cgo driver and is only available in cgo builds.
const (
	DriverSQLite  = "sqlite"
	DriverSQLite3 = "sqlite3"
)

// DB wraps *sql.DB for conversation storage.
type DB struct {
	*sql.DB
	driver string
}

// Open opens the SQLite database at path with the default driver and applies the schema.
// Creates the file (and its directory) if missing.
func Open(ctx context.Context, path string) (*DB, error) {
	return OpenWithDriver(ctx, DriverSQLite, path)
}

// OpenWithDriver is Open with an explicit driver name.
func OpenWithDriver(ctx context.Context, driver, path string) (*DB, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if !slices.Contains(sql.Drivers(), driver) {
		return nil, fmt.Errorf("%w: sql driver %q not compiled in", ErrStoreUnavailable, driver)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create db dir: %w", ErrStoreUnavailable, err)
		}
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrStoreUnavailable, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: apply schema: %w", ErrStoreUnavailable, err)
	}

	// Databases created before conversations, providers and metadata were tracked.
	for _, col := range []struct{ name, def string }{
		{"conversation", "TEXT NOT NULL DEFAULT 'default'"},
		{"provider", "TEXT"},
		{"metadata", "TEXT"},
	} {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pragma_table_info('messages') WHERE name=?", col.name).Scan(&count); err == nil && count == 0 {
			if _, err := db.ExecContext(ctx, "ALTER TABLE messages ADD COLUMN "+col.name+" "+col.def); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrating schema (messages.%s): %w", col.name, err)
			}
		}
	}

	if _, err := db.ExecContext(ctx, indexes); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create indexes: %w", ErrStoreUnavailable, err)
	}

	return &DB{DB: db, driver: driver}, nil
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the database.
func (db *DB) Close() error {
	return db.DB.Close()
}
