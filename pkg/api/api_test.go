package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/network"
	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/proxy"
	"github.com/ZentaChain/gnutella-vmsg/pkg/stats"
	"github.com/ZentaChain/gnutella-vmsg/pkg/tsync"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server  *Server
	pool    *network.Pool
	stats   *stats.Collector
	proxies *proxy.Table
	clock   *tsync.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	collector, err := stats.NewCollector(reg)
	require.NoError(t, err)

	pool := network.NewPool(0)
	t.Cleanup(func() { pool.Close() })

	enc := vmsg.NewEncoder(protocol.GUID{1})
	clock := tsync.NewClock(time.Now)
	proxies := proxy.NewTable()

	server := NewServer(Sources{
		Stats:    collector,
		Pool:     pool,
		TimeSync: tsync.NewEstimator(enc, clock),
		Clock:    clock,
		Proxies:  proxies,
		Gatherer: reg,
	}, DefaultConfig(), nil)

	return &fixture{server: server, pool: pool, stats: collector, proxies: proxies, clock: clock}
}

func (f *fixture) get(t *testing.T, path string, out any) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

func (f *fixture) addNode(t *testing.T, key string, leaf bool) *network.Node {
	t.Helper()
	n := network.NewNode(network.NodeConfig{
		Remote: netip.MustParseAddrPort("10.0.0.1:6346"),
		Leaf:   leaf,
		Write:  func([]byte) error { return nil },
	})
	require.NoError(t, f.pool.Add(key, n))
	return n
}

func TestRegistryEndpoint(t *testing.T) {
	f := newFixture(t)

	var entries []RegistryEntry
	w := f.get(t, "/api/v1/registry", &entries)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Len(t, entries, vmsg.DefaultRegistry().Len())
	assert.Equal(t, "0000", entries[0].Vendor)
	assert.Equal(t, "Messages Supported", entries[0].Name)
}

func TestInfoStringEndpoint(t *testing.T) {
	f := newFixture(t)

	var info InfoResponse
	w := f.get(t, "/api/v1/infostr/4245415204000100", &info)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BEAR/4v1 'Hops Flow'", info.Info)

	w = f.get(t, "/api/v1/infostr/4245", &info)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "????", info.Info)

	w = f.get(t, "/api/v1/infostr/xyz", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	n := f.addNode(t, "a", false)
	f.stats.Dropped(n, vmsg.DropBadSize)

	var snap stats.Snapshot
	w := f.get(t, "/api/v1/stats", &snap)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(1), snap.Dropped["bad_size"])
	assert.Len(t, snap.Dropped, len(vmsg.AllDropReasons))
}

func TestNodesEndpoints(t *testing.T) {
	f := newFixture(t)
	n := f.addNode(t, "a", true)
	n.SetAttr(vmsg.AttrTimeSync)

	var nodes []network.Info
	w := f.get(t, "/api/v1/nodes", &nodes)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Leaf)
	assert.Equal(t, n.Attr().String(), nodes[0].Attr)

	var info network.Info
	w = f.get(t, "/api/v1/nodes/"+nodeID(n), &info)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, n.ID(), info.ID)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/nodes/999999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/nodes/abc", nil).Code)
}

func TestTimeSyncEndpoint(t *testing.T) {
	f := newFixture(t)
	f.clock.Adjust(2 * time.Second)

	var resp TimeSyncResponse
	w := f.get(t, "/api/v1/tsync", &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2s", resp.Offset)
	assert.Empty(t, resp.Samples)
}

func TestProxiesEndpoint(t *testing.T) {
	f := newFixture(t)
	n := f.addNode(t, "leaf", true)
	guid := protocol.GUID{0xab}
	require.True(t, f.proxies.Add(n, guid))
	f.proxies.RecordRemoteProxy(n, netip.MustParseAddrPort("1.2.3.4:6346"))

	var resp ProxiesResponse
	w := f.get(t, "/api/v1/proxies", &resp)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp.Routes, 1)
	assert.Equal(t, guid, resp.Routes[0].GUID)
	assert.True(t, resp.Routes[0].Proxied)
	assert.Equal(t, []string{"1.2.3.4:6346"}, resp.Proxies)
	assert.Contains(t, w.Body.String(), guid.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `vmsg_dropped_total{reason="too_small",transport="tcp"} 0`)
}

func TestHealthAndCORS(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/registry", nil)
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("a"))
	assert.Len(t, rl.requests, 1, "expired counters swept")
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 1
	s := NewServer(Sources{}, cfg, nil)

	codes := make([]int, 0, 2)
	for range 2 {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestWithoutSources(t *testing.T) {
	s := NewServer(Sources{}, &Config{}, nil)

	for path, code := range map[string]int{
		"/api/v1/stats":   http.StatusNotFound,
		"/api/v1/nodes":   http.StatusOK,
		"/api/v1/tsync":   http.StatusOK,
		"/api/v1/proxies": http.StatusOK,
		"/metrics":        http.StatusNotFound,
	} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, code, w.Code, path)
		if code == http.StatusOK {
			assert.False(t, strings.Contains(w.Body.String(), "null"), path)
		}
	}
}

func nodeID(n *network.Node) string {
	b, _ := json.Marshal(n.ID())
	return string(b)
}
