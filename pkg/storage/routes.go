package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"go.uber.org/zap"
)

// Route is a stored push-proxy route
type Route struct {
	GUID      protocol.GUID
	NodeAddr  string // address of the node the servent is reachable through
	Proxied   bool   // we act as push-proxy for the servent
	UpdatedAt int64
	ExpiresAt int64
}

// PutRoute inserts or refreshes the route to guid
func (s *RouteStore) PutRoute(guid protocol.GUID, nodeAddr string, proxied bool) error {
	now := time.Now().Unix()
	expiresAt := now + int64(s.ttl.Seconds())

	query := `
		INSERT INTO push_routes (guid, node_addr, proxied, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			node_addr = excluded.node_addr,
			proxied = excluded.proxied,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`

	if _, err := s.db.Exec(query, guid.String(), nodeAddr, boolToInt(proxied), now, expiresAt); err != nil {
		return fmt.Errorf("failed to store route: %w", err)
	}
	return nil
}

// GetRoute returns the live route to guid
func (s *RouteStore) GetRoute(guid protocol.GUID) (*Route, error) {
	query := `
		SELECT node_addr, proxied, updated_at, expires_at
		FROM push_routes
		WHERE guid = ? AND expires_at > ?
	`

	r := &Route{GUID: guid}
	var proxied int
	err := s.db.QueryRow(query, guid.String(), time.Now().Unix()).
		Scan(&r.NodeAddr, &proxied, &r.UpdatedAt, &r.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get route: %w", err)
	}
	r.Proxied = intToBool(proxied)

	return r, nil
}

// SetProxied changes the proxied flag of a route, keeping the route
func (s *RouteStore) SetProxied(guid protocol.GUID, proxied bool) error {
	query := `UPDATE push_routes SET proxied = ? WHERE guid = ?`

	result, err := s.db.Exec(query, boolToInt(proxied), guid.String())
	if err != nil {
		return fmt.Errorf("failed to update route: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRoute removes the route to guid
func (s *RouteStore) DeleteRoute(guid protocol.GUID) error {
	query := `DELETE FROM push_routes WHERE guid = ?`
	if _, err := s.db.Exec(query, guid.String()); err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}
	return nil
}

// Routes returns every live route, most recently updated first
func (s *RouteStore) Routes() ([]*Route, error) {
	query := `
		SELECT guid, node_addr, proxied, updated_at, expires_at
		FROM push_routes
		WHERE expires_at > ?
		ORDER BY updated_at DESC, guid ASC
	`

	rows, err := s.db.Query(query, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer rows.Close()

	var routes []*Route
	for rows.Next() {
		var (
			guidHex string
			proxied int
		)
		r := &Route{}
		if err := rows.Scan(&guidHex, &r.NodeAddr, &proxied, &r.UpdatedAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		if r.GUID, err = protocol.ParseGUID(guidHex); err != nil {
			return nil, err
		}
		r.Proxied = intToBool(proxied)
		routes = append(routes, r)
	}

	return routes, rows.Err()
}

// AddProxy records one of our push-proxies
func (s *RouteStore) AddProxy(addr string) error {
	query := `INSERT OR REPLACE INTO push_proxies (addr, learned_at) VALUES (?, ?)`
	if _, err := s.db.Exec(query, addr, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to store push-proxy: %w", err)
	}
	return nil
}

// Proxies returns our push-proxies, oldest first
func (s *RouteStore) Proxies() ([]string, error) {
	rows, err := s.db.Query(`SELECT addr FROM push_proxies ORDER BY learned_at ASC, addr ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list push-proxies: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, rows.Err()
}

// DeleteExpired removes the routes expired at now
func (s *RouteStore) DeleteExpired(now time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM push_routes WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup routes: %w", err)
	}
	return result.RowsAffected()
}

// Run periodically removes expired routes until ctx is done
func (s *RouteStore) Run(ctx context.Context, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			count, err := s.DeleteExpired(now)
			if err != nil {
				logger.Warn("route cleanup failed", zap.Error(err))
				continue
			}
			if count > 0 {
				logger.Debug("cleaned up expired routes", zap.Int64("count", count))
			}
		}
	}
}
