package stats

import (
	"net/netip"
	"testing"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConn struct {
	udp bool
}

func (c *testConn) ID() uint64 { return 1 }
func (c *testConn) String() string { return "node#1" }
func (c *testConn) IsUDP() bool { return c.udp }
func (c *testConn) IsLeaf() bool { return false }
func (c *testConn) IsWritable() bool { return true }
func (c *testConn) RemoteAddr() netip.AddrPort { return netip.MustParseAddrPort("1.2.3.4:6346") }
func (c *testConn) SetAttr(vmsg.Attr) {}
func (c *testConn) SetHopsFlow(uint8) {}
func (c *testConn) Enqueue(*vmsg.PendingSend) {}

func TestPreRegisteredReasons(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	assert.Equal(t, 2*len(vmsg.AllDropReasons), testutil.CollectAndCount(c.dropped))

	snap := c.Snapshot()
	assert.Len(t, snap.Dropped, len(vmsg.AllDropReasons))
	for _, r := range vmsg.AllDropReasons {
		assert.Zero(t, snap.Dropped[r.String()], r.String())
	}
}

func TestDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)

	_, err = NewCollector(reg)
	assert.Error(t, err)
}

func TestCounts(t *testing.T) {
	c, err := NewCollector(nil)
	require.NoError(t, err)

	c.Dropped(&testConn{}, vmsg.DropBadSize)
	c.Dropped(&testConn{udp: true}, vmsg.DropBadSize)
	c.Dropped(&testConn{}, vmsg.DropNoResults)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped.WithLabelValues("bad_size", "tcp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped.WithLabelValues("bad_size", "udp")))
	assert.Equal(t, uint64(2), c.DroppedCount(vmsg.DropBadSize))
	assert.Equal(t, uint64(1), c.Snapshot().Dropped["no_results"])
}

func TestThroughDispatcher(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	d := vmsg.NewDispatcher(vmsg.NewEncoder(protocol.GUID{1}), vmsg.WithStats(c))
	conn := &testConn{}

	// Hops Flow, valid and short
	h := &protocol.Header{Function: protocol.FuncVendor, TTL: 1}
	hops := []byte{'B', 'E', 'A', 'R', 4, 0, 1, 0}

	assert.NoError(t, d.Handle(conn, h, append(hops, 3)))
	assert.Error(t, d.Handle(conn, h, hops))
	assert.Error(t, d.Handle(conn, h, hops[:5]))
	assert.Error(t, d.Handle(conn, h, []byte{'X', 'X', 'X', 'X', 1, 0, 1, 0}))

	snap := c.Snapshot()
	assert.Equal(t, uint64(1), snap.Handled["Hops Flow"])
	assert.Equal(t, uint64(1), snap.Dropped["bad_size"])
	assert.Equal(t, uint64(1), snap.Dropped["too_small"])
	assert.Equal(t, uint64(1), snap.Dropped["unknown_type"])
}
