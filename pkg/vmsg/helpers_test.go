package vmsg

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id       uint64
	udp      bool
	leaf     bool
	writable bool
	addr     netip.AddrPort

	attr    Attr
	hops    uint8
	hopsSet bool
	sent    []*PendingSend
}

func newTCPConn() *fakeConn {
	return &fakeConn{
		id:       1,
		leaf:     true,
		writable: true,
		addr:     netip.MustParseAddrPort("10.0.0.1:6346"),
	}
}

func newUDPConn() *fakeConn {
	c := newTCPConn()
	c.id = 2
	c.udp = true
	c.leaf = false
	return c
}

func (c *fakeConn) ID() uint64 { return c.id }
func (c *fakeConn) String() string { return fmt.Sprintf("fake#%d", c.id) }
func (c *fakeConn) IsUDP() bool { return c.udp }
func (c *fakeConn) IsLeaf() bool { return c.leaf }
func (c *fakeConn) IsWritable() bool { return c.writable }
func (c *fakeConn) RemoteAddr() netip.AddrPort { return c.addr }
func (c *fakeConn) SetAttr(a Attr) { c.attr |= a }
func (c *fakeConn) Enqueue(p *PendingSend) { c.sent = append(c.sent, p) }

func (c *fakeConn) SetHopsFlow(hops uint8) {
	c.hops = hops
	c.hopsSet = true
}

type oobCall struct {
	muid        protocol.GUID
	count       int
	unsolicited bool
}

type dqCall struct {
	muid protocol.GUID
	node uint64
	kept uint16
}

type cbCall struct {
	addr netip.Addr
	port uint16
	guid protocol.GUID
}

type crawlCall struct {
	ultras, leaves, features uint8
}

// recorder implements every collaborator and records the calls
type recorder struct {
	kept map[protocol.GUID]uint32

	pending   []oobCall
	delivered []oobCall
	status    []dqCall

	proxyAdds   []protocol.GUID
	proxyRemove []bool
	remotes     []netip.AddrPort

	stamps   [][2]protocol.Timestamp
	requests []TimeSyncRequest
	replies  []TimeSyncSample

	crawls []crawlCall
	pong   []byte

	tcpBacks []uint16
	udpBacks []cbCall

	dropped map[DropReason]int
	handled []Kind
}

func newRecorder() *recorder {
	return &recorder{
		kept:    make(map[protocol.GUID]uint32),
		pong:    []byte{0, 0, 0},
		dropped: make(map[DropReason]int),
	}
}

// calls counts collaborator calls other than the stats ones
func (r *recorder) calls() int {
	return len(r.pending) + len(r.delivered) + len(r.status) +
		len(r.proxyAdds) + len(r.proxyRemove) + len(r.remotes) +
		len(r.stamps) + len(r.requests) + len(r.replies) +
		len(r.crawls) + len(r.tcpBacks) + len(r.udpBacks)
}

func (r *recorder) KeptResults(muid protocol.GUID) (uint32, bool) {
	kept, ok := r.kept[muid]
	return kept, ok
}

func (r *recorder) OOBPending(_ Conn, muid protocol.GUID, hits int, unsolicited bool) {
	r.pending = append(r.pending, oobCall{muid, hits, unsolicited})
}

func (r *recorder) OOBDeliver(_ Conn, muid protocol.GUID, wanted int) {
	r.delivered = append(r.delivered, oobCall{muid: muid, count: wanted})
}

func (r *recorder) QueryStatus(muid protocol.GUID, node uint64, kept uint16) {
	r.status = append(r.status, dqCall{muid, node, kept})
}

func (r *recorder) Add(_ Conn, guid protocol.GUID) bool {
	r.proxyAdds = append(r.proxyAdds, guid)
	return true
}

func (r *recorder) Remove(_ Conn, keepRoute bool) {
	r.proxyRemove = append(r.proxyRemove, keepRoute)
}

func (r *recorder) RecordRemoteProxy(_ Conn, addr netip.AddrPort) {
	r.remotes = append(r.remotes, addr)
}

func (r *recorder) RecordSend(old, now protocol.Timestamp) {
	r.stamps = append(r.stamps, [2]protocol.Timestamp{old, now})
}

func (r *recorder) RequestReceived(_ Conn, req TimeSyncRequest) {
	r.requests = append(r.requests, req)
}

func (r *recorder) ReplyReceived(_ Conn, s TimeSyncSample) {
	r.replies = append(r.replies, s)
}

func (r *recorder) BuildPong(_ Conn, ultras, leaves, features uint8) ([]byte, error) {
	r.crawls = append(r.crawls, crawlCall{ultras, leaves, features})
	return r.pong, nil
}

func (r *recorder) TCP(_ Conn, port uint16) {
	r.tcpBacks = append(r.tcpBacks, port)
}

func (r *recorder) UDP(addr netip.Addr, port uint16, guid protocol.GUID) {
	r.udpBacks = append(r.udpBacks, cbCall{addr, port, guid})
}

func (r *recorder) Dropped(_ Conn, reason DropReason) {
	r.dropped[reason]++
}

func (r *recorder) Handled(d Descriptor) {
	r.handled = append(r.handled, d.Kind)
}

func fixedClock(sec, usec uint32) Clock {
	return func() protocol.Timestamp {
		return protocol.Timestamp{Sec: sec, Usec: usec}
	}
}

var testGUID = protocol.GUID{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

func newTestEncoder(options ...EncoderOption) *Encoder {
	return NewEncoder(testGUID, options...)
}

func newTestDispatcher(rec *recorder, options ...Option) *Dispatcher {
	base := []Option{
		WithStats(rec),
		WithSearch(rec),
		WithDynamicQuery(rec),
		WithPushProxies(rec),
		WithClockSync(rec),
		WithCrawler(rec),
		WithConnectBack(rec),
	}
	return NewDispatcher(newTestEncoder(), append(base, options...)...)
}

// deliver commits p as the send path would and feeds the frame to d
func deliver(t *testing.T, d *Dispatcher, c Conn, p *PendingSend) error {
	t.Helper()
	require.NotNil(t, p)

	frame := p.Commit()

	var h protocol.Header
	require.NoError(t, h.Decode(frame))
	require.Equal(t, protocol.FuncVendor, h.Function)
	require.Equal(t, int(h.Size), len(frame)-protocol.HeaderSize)

	return d.Handle(c, &h, frame[protocol.HeaderSize:])
}

// vendorPayload builds the body handed to Handle for a raw payload
func vendorPayload(t protocol.VendorHeader, body []byte) []byte {
	buf := make([]byte, protocol.VendorHeaderSize+len(body))
	t.Put(buf)
	copy(buf[protocol.VendorHeaderSize:], body)
	return buf
}

func vendorHeader(muid protocol.GUID, body []byte) *protocol.Header {
	return &protocol.Header{
		MUID:     muid,
		Function: protocol.FuncVendor,
		TTL:      1,
		Size:     uint32(protocol.VendorHeaderSize + len(body)),
	}
}

// sentBody returns the payload of a sent message, after the sub-header
func sentBody(p *PendingSend) []byte {
	return p.Frame()[protocol.HeaderSize+protocol.VendorHeaderSize:]
}
