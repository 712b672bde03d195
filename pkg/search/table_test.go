package search

import (
	"net/netip"
	"testing"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConn struct {
	udp  bool
	sent []*vmsg.PendingSend
}

func (c *testConn) ID() uint64 { return 7 }
func (c *testConn) String() string { return "test" }
func (c *testConn) IsUDP() bool { return c.udp }
func (c *testConn) IsLeaf() bool { return true }
func (c *testConn) IsWritable() bool { return true }
func (c *testConn) RemoteAddr() netip.AddrPort { return netip.MustParseAddrPort("10.0.0.1:6346") }
func (c *testConn) SetAttr(vmsg.Attr) {}
func (c *testConn) SetHopsFlow(uint8) {}
func (c *testConn) Enqueue(p *vmsg.PendingSend) { c.sent = append(c.sent, p) }

func newTestTable(t *testing.T, maxQueries int) *Table {
	t.Helper()
	tbl, err := NewTable(vmsg.NewEncoder(protocol.GUID{1}), maxQueries, 4)
	require.NoError(t, err)
	return tbl
}

func payloadOf(p *vmsg.PendingSend) []byte {
	return p.Frame()[protocol.HeaderSize+protocol.VendorHeaderSize:]
}

func TestKeptResults(t *testing.T) {
	tbl := newTestTable(t, 0)
	muid := protocol.GUID{9}

	_, ok := tbl.KeptResults(muid)
	assert.False(t, ok)
	assert.ErrorIs(t, tbl.AddKept(muid, 1), ErrUnknownQuery)

	tbl.Register(muid, 100)
	kept, ok := tbl.KeptResults(muid)
	require.True(t, ok)
	assert.Zero(t, kept)

	require.NoError(t, tbl.AddKept(muid, 70000))
	kept, _ = tbl.KeptResults(muid)
	assert.Equal(t, uint32(70000), kept)

	tbl.Close(muid)
	_, ok = tbl.KeptResults(muid)
	assert.False(t, ok)
}

func TestQueriesAreBounded(t *testing.T) {
	tbl := newTestTable(t, 2)
	tbl.Register(protocol.GUID{1}, 0)
	tbl.Register(protocol.GUID{2}, 0)
	tbl.Register(protocol.GUID{3}, 0)

	assert.Equal(t, 2, tbl.Len())
	_, ok := tbl.Get(protocol.GUID{1})
	assert.False(t, ok)
}

func TestOOBPendingClaims(t *testing.T) {
	muid := protocol.GUID{5}

	tests := []struct {
		name   string
		wanted uint32
		kept   uint32
		hits   int
		claim  byte
	}{
		{"claims all", 100, 0, 10, 10},
		{"claims missing", 100, 95, 10, 5},
		{"no limit", 0, 500, 10, 10},
		{"capped", 0, 0, 255, 254},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := newTestTable(t, 0)
			tbl.Register(muid, tt.wanted)
			require.NoError(t, tbl.AddKept(muid, tt.kept))

			c := &testConn{udp: true}
			tbl.OOBPending(c, muid, tt.hits, true)

			require.Len(t, c.sent, 1)
			assert.Equal(t, muid, c.sent[0].MUID())
			assert.Equal(t, []byte{tt.claim}, payloadOf(c.sent[0]))
		})
	}
}

func TestOOBPendingIgnored(t *testing.T) {
	muid := protocol.GUID{5}
	tbl := newTestTable(t, 0)
	c := &testConn{udp: true}

	tbl.OOBPending(c, muid, 3, false)
	assert.Empty(t, c.sent, "unknown query")

	tbl.Register(muid, 10)
	require.NoError(t, tbl.AddKept(muid, 10))
	tbl.OOBPending(c, muid, 3, false)
	assert.Empty(t, c.sent, "satisfied query")

	other := protocol.GUID{6}
	tbl.Register(other, 10)
	tbl.Close(other)
	tbl.OOBPending(c, other, 3, false)
	assert.Empty(t, c.sent, "closed query")
}

func TestHoldAndDeliver(t *testing.T) {
	tbl := newTestTable(t, 0)
	muid := protocol.GUID{8}

	hits := [][]byte{
		protocol.NewMessage(protocol.FuncQueryHit, 1, []byte{1}).Encode(),
		protocol.NewMessage(protocol.FuncQueryHit, 1, []byte{2}).Encode(),
		protocol.NewMessage(protocol.FuncQueryHit, 1, []byte{3}).Encode(),
	}

	assert.Nil(t, tbl.Hold(muid, nil))

	ind := tbl.Hold(muid, hits)
	require.NotNil(t, ind)
	assert.Equal(t, muid, ind.MUID())
	assert.Equal(t, uint16(2), ind.Type.Version)
	assert.Equal(t, byte(3), payloadOf(ind)[0])
	assert.Equal(t, 3, tbl.Held(muid))

	c := &testConn{udp: true}
	tbl.OOBDeliver(c, muid, 2)
	require.Len(t, c.sent, 2)
	assert.Equal(t, hits[0], c.sent[0].Frame())
	assert.Equal(t, hits[1], c.sent[1].Frame())
	assert.Zero(t, tbl.Held(muid))

	tbl.OOBDeliver(c, muid, 2)
	assert.Len(t, c.sent, 2)
}

func TestQueryStatusFeedback(t *testing.T) {
	tbl := newTestTable(t, 0)
	muid := protocol.GUID{4}

	tbl.QueryStatus(muid, 1, 5)
	assert.Nil(t, tbl.Feedback(muid))

	tbl.Register(muid, 0)
	tbl.QueryStatus(muid, 1, 5)
	tbl.QueryStatus(muid, 2, 9)
	tbl.QueryStatus(muid, 1, 6)
	assert.Equal(t, map[uint64]uint16{1: 6, 2: 9}, tbl.Feedback(muid))

	tbl.QueryStatus(muid, 1, vmsg.QueryStatusStop)
	q, ok := tbl.Get(muid)
	require.True(t, ok)
	assert.True(t, q.Closed)
}

// Through the dispatcher, as the vendor layer drives the table
func TestQueryStatusThroughDispatcher(t *testing.T) {
	tbl := newTestTable(t, 0)
	muid := protocol.GUID{3}
	tbl.Register(muid, 0)
	require.NoError(t, tbl.AddKept(muid, 12))

	enc := vmsg.NewEncoder(protocol.GUID{2})
	d := vmsg.NewDispatcher(enc, vmsg.WithSearch(tbl), vmsg.WithDynamicQuery(tbl))

	up := &testConn{}
	req := enc.SendQueryStatusRequest(up, muid)
	frame := req.Commit()
	var h protocol.Header
	require.NoError(t, h.Decode(frame))

	leaf := &testConn{}
	require.NoError(t, d.Handle(leaf, &h, frame[protocol.HeaderSize:]))
	require.Len(t, leaf.sent, 1)
	assert.Equal(t, []byte{12, 0}, payloadOf(leaf.sent[0]))
}
