// Package proxy keeps the push-proxy state of the node: the servents we
// proxy pushes for, and the hosts proxying pushes for us.
package proxy

import (
	"errors"
	"net/netip"
	"slices"
	"sync"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/storage"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"go.uber.org/zap"
)

// Store persists routes, see storage.RouteStore
type Store interface {
	PutRoute(guid protocol.GUID, nodeAddr string, proxied bool) error
	SetProxied(guid protocol.GUID, proxied bool) error
	DeleteRoute(guid protocol.GUID) error
	Routes() ([]*storage.Route, error)
	AddProxy(addr string) error
	Proxies() ([]string, error)
}

// Route is the way to reach a servent
type Route struct {
	GUID     protocol.GUID `json:"guid"`
	Node     uint64        `json:"node"` // zero when restored from the store
	NodeAddr string        `json:"node_addr"`
	Proxied  bool          `json:"proxied"`
}

// Table is the push-proxy table. It is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	routes  map[protocol.GUID]*Route
	byNode  map[uint64]protocol.GUID
	proxies []netip.AddrPort

	store  Store
	logger *zap.Logger
}

// Option configures a Table
type Option func(*Table)

// WithStore persists routes in s
func WithStore(s Store) Option {
	return func(t *Table) {
		t.store = s
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// NewTable creates an empty table
func NewTable(options ...Option) *Table {
	t := &Table{
		routes: make(map[protocol.GUID]*Route),
		byNode: make(map[uint64]protocol.GUID),
		logger: zap.NewNop(),
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Load restores the routes and our push-proxies kept in the store. The
// nodes of the routes are gone, so none of them is proxied any more.
func (t *Table) Load() (int, error) {
	if t.store == nil {
		return 0, nil
	}

	routes, err := t.store.Routes()
	if err != nil {
		return 0, err
	}

	proxies, err := t.store.Proxies()
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range routes {
		t.routes[r.GUID] = &Route{GUID: r.GUID, NodeAddr: r.NodeAddr}
	}
	for _, s := range proxies {
		addr, err := netip.ParseAddrPort(s)
		if err != nil {
			t.logger.Debug("ignoring stored push-proxy", zap.String("addr", s), zap.Error(err))
			continue
		}
		if !slices.Contains(t.proxies, addr) {
			t.proxies = append(t.proxies, addr)
		}
	}
	return len(routes), nil
}

// Add makes c the route to the servent guid and flags it as proxied. It
// refuses a GUID proxied through another node.
func (t *Table) Add(c vmsg.Conn, guid protocol.GUID) bool {
	t.mu.Lock()
	if r, ok := t.routes[guid]; ok && r.Proxied && r.Node != c.ID() {
		t.mu.Unlock()
		t.logger.Warn("servent already proxied through another node",
			zap.Stringer("node", c), zap.Stringer("guid", guid), zap.Uint64("other", r.Node))
		return false
	}

	// A node proxies a single servent
	replaced, hadOther := t.byNode[c.ID()]
	hadOther = hadOther && replaced != guid
	if hadOther {
		delete(t.routes, replaced)
	}

	r := &Route{GUID: guid, Node: c.ID(), NodeAddr: c.RemoteAddr().String(), Proxied: true}
	t.routes[guid] = r
	t.byNode[c.ID()] = guid
	t.mu.Unlock()

	if hadOther {
		t.persist(func(s Store) error { return s.DeleteRoute(replaced) })
	}
	t.persist(func(s Store) error { return s.PutRoute(guid, r.NodeAddr, true) })

	t.logger.Debug("acting as push-proxy", zap.Stringer("node", c), zap.Stringer("guid", guid))
	return true
}

// Remove stops proxying for c. The route is kept when keepRoute is set,
// results may still come back needing it.
func (t *Table) Remove(c vmsg.Conn, keepRoute bool) {
	t.mu.Lock()
	guid, ok := t.byNode[c.ID()]
	if !ok {
		t.mu.Unlock()
		return
	}

	delete(t.byNode, c.ID())
	if keepRoute {
		t.routes[guid].Proxied = false
	} else {
		delete(t.routes, guid)
	}
	t.mu.Unlock()

	if keepRoute {
		t.persist(func(s Store) error { return s.SetProxied(guid, false) })
	} else {
		t.persist(func(s Store) error { return s.DeleteRoute(guid) })
	}

	t.logger.Debug("no longer push-proxy",
		zap.Stringer("node", c), zap.Stringer("guid", guid), zap.Bool("keep_route", keepRoute))
}

// RecordRemoteProxy records addr as one of our push-proxies
func (t *Table) RecordRemoteProxy(c vmsg.Conn, addr netip.AddrPort) {
	t.mu.Lock()
	if slices.Contains(t.proxies, addr) {
		t.mu.Unlock()
		return
	}
	t.proxies = append(t.proxies, addr)
	t.mu.Unlock()

	t.persist(func(s Store) error { return s.AddProxy(addr.String()) })

	t.logger.Info("got push-proxy", zap.Stringer("node", c), zap.Stringer("addr", addr))
}

// Lookup returns the route to a servent
func (t *Table) Lookup(guid protocol.GUID) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.routes[guid]
	if !ok {
		return Route{}, false
	}
	return *r, true
}

// Routes returns a snapshot of all routes
func (t *Table) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	routes := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		routes = append(routes, *r)
	}
	slices.SortFunc(routes, func(a, b Route) int {
		return slices.Compare(a.GUID[:], b.GUID[:])
	})
	return routes
}

// Proxies returns our push-proxies
func (t *Table) Proxies() []netip.AddrPort {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.proxies)
}

func (t *Table) persist(fn func(Store) error) {
	if t.store == nil {
		return
	}
	if err := fn(t.store); err != nil && !errors.Is(err, storage.ErrNotFound) {
		t.logger.Warn("cannot persist push-proxy route", zap.Error(err))
	}
}

var _ vmsg.PushProxies = (*Table)(nil)
