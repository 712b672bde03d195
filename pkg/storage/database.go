// Package storage persists push-proxy routes in SQLite, so that results
// for firewalled servents can still be routed after a restart.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// DefaultRouteTTL is how long a route survives without being refreshed
const DefaultRouteTTL = 24 * time.Hour

// RouteStore manages push-proxy routes: which node a servent GUID is
// reachable through, and whether we act as its push-proxy.
type RouteStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewRouteStore opens (or creates) the route database at dbPath
func NewRouteStore(dbPath string, ttl time.Duration) (*RouteStore, error) {
	if ttl == 0 {
		ttl = DefaultRouteTTL
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open route database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &RouteStore{
		db:  db,
		ttl: ttl,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the database schema
func (s *RouteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS push_routes (
		guid TEXT PRIMARY KEY,
		node_addr TEXT NOT NULL,
		proxied INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	-- Index for expiration cleanup
	CREATE INDEX IF NOT EXISTS idx_push_routes_expires ON push_routes(expires_at);

	CREATE TABLE IF NOT EXISTS push_proxies (
		addr TEXT PRIMARY KEY,
		learned_at INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *RouteStore) Close() error {
	return s.db.Close()
}
