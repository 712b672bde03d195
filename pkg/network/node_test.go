package network

import (
	"net/netip"
	"testing"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(sink *frameSink, udp bool) *Node {
	return NewNode(NodeConfig{
		UDP:    udp,
		Leaf:   !udp,
		Remote: netip.MustParseAddrPort("10.1.2.3:6346"),
		Write:  sink.write,
	})
}

func TestNodeIdentity(t *testing.T) {
	a := newTestNode(&frameSink{}, false)
	b := newTestNode(&frameSink{}, true)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, "10.1.2.3:6346", a.String())
	assert.Equal(t, "udp/10.1.2.3:6346", b.String())
	assert.True(t, a.IsLeaf())
	assert.True(t, b.IsUDP())
}

func TestNodeAttr(t *testing.T) {
	n := newTestNode(&frameSink{}, false)

	n.SetAttr(vmsg.AttrLeafGuide)
	n.SetAttr(vmsg.AttrTimeSync)
	assert.True(t, n.Attr().Has(vmsg.AttrLeafGuide|vmsg.AttrTimeSync))
	assert.False(t, n.Attr().Has(vmsg.AttrCrawlable))
	assert.Equal(t, "leaf-guide,time-sync", n.Info().Attr)
}

func TestNodeHopsFlow(t *testing.T) {
	n := newTestNode(&frameSink{}, false)
	assert.Equal(t, NoHopsFlow, n.HopsFlow())
	assert.True(t, n.CanForward(4))

	n.SetHopsFlow(2)
	assert.True(t, n.CanForward(1))
	assert.False(t, n.CanForward(2))

	n.SetHopsFlow(0)
	assert.False(t, n.CanForward(0))
}

func TestNodeSendPath(t *testing.T) {
	sink := &frameSink{}
	n := newTestNode(sink, false)
	enc := vmsg.NewEncoder(protocol.GUID{1})

	enc.SendHopsFlow(n, 3)
	n.Send(protocol.NewMessage(protocol.FuncPing, 1, nil))
	assert.True(t, n.IsWritable())

	require.NoError(t, n.Queue().Flush())
	require.Len(t, sink.frames, 2)

	var h protocol.Header
	require.NoError(t, h.Decode(sink.frames[0]))
	assert.Equal(t, protocol.FuncVendor, h.Function)
	require.NoError(t, h.Decode(sink.frames[1]))
	assert.Equal(t, protocol.FuncPing, h.Function)

	n.Close()
	assert.False(t, n.IsWritable())
	assert.Nil(t, enc.SendTimeSyncRequest(n, false, protocol.Timestamp{}, nil))
}
