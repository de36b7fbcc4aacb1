// Package database provides the durable supercache for the forwarder.
//
// The supercache remembers the last successfully fetched record set for every
// (name, type) the forwarder has resolved. It is consulted only when upstream
// resolution fails, so a name that was ever resolvable stays resolvable for
// as long as the forwarder runs, however stale the answer.
//
// Storage is a single SQLite file identified by DATABASE_URL. The schema is
// migrated forward-only at startup via golang-migrate from an embedded FS.
// Rows are never deleted by the resolution path; eviction is an operator task
// exposed through the admin API.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the SQLite connection pool backing the supercache.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the supercache database identified by databaseURL
// and brings its schema up to date.
//
// Accepted forms: a plain file path, "sqlite://<path>", or a full
// "file:<path>?opts" DSN. Plain paths get WAL journaling and a busy timeout,
// which is what the concurrent touch-and-fetch path wants.
func Open(databaseURL string) (*DB, error) {
	dsn, err := normalizeDSN(databaseURL)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{conn: conn}
	if err := db.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Health checks database connectivity.
func (db *DB) Health(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// runMigrations applies pending schema migrations using golang-migrate.
func (db *DB) runMigrations() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(db.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// normalizeDSN turns the DATABASE_URL into a driver DSN.
func normalizeDSN(databaseURL string) (string, error) {
	s := strings.TrimSpace(databaseURL)
	if s == "" {
		return "", fmt.Errorf("empty database URL")
	}
	if strings.HasPrefix(s, "file:") {
		return s, nil
	}
	s = strings.TrimPrefix(s, "sqlite://")
	if s == "" {
		return "", fmt.Errorf("database URL %q has no path", databaseURL)
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s), nil
}
