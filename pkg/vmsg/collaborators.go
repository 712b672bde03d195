package vmsg

import (
	"net/netip"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
)

// Stats counts handled and dropped vendor messages
type Stats interface {
	Dropped(c Conn, reason DropReason)
	Handled(d Descriptor)
}

// Search answers query status requests and out-of-band hit traffic
type Search interface {
	// KeptResults returns how many hits our filters kept for a query,
	// or false when we have no such query.
	KeptResults(muid protocol.GUID) (kept uint32, ok bool)

	// OOBPending is told a remote host holds hits for one of our queries
	OOBPending(c Conn, muid protocol.GUID, hits int, canRecvUnsolicited bool)

	// OOBDeliver is asked to send up to wanted buffered hits for a query
	OOBDeliver(c Conn, muid protocol.GUID, wanted int)
}

// DynamicQuery receives leaf feedback on dynamic queries
type DynamicQuery interface {
	QueryStatus(muid protocol.GUID, node uint64, kept uint16)
}

// PushProxies maintains push-proxy routes and our own push-proxies
type PushProxies interface {
	// Add registers c as the route to the servent guid. It reports
	// whether we now act as push-proxy for it.
	Add(c Conn, guid protocol.GUID) bool

	// Remove stops proxying for c, discarding its route unless keepRoute
	Remove(c Conn, keepRoute bool)

	// RecordRemoteProxy records addr as one of our push-proxies
	RecordRemoteProxy(c Conn, addr netip.AddrPort)
}

// TimeSyncRequest is a received Time Sync Request, T2 stamped on arrival
type TimeSyncRequest struct {
	ID       protocol.ClockSyncID
	NTP      bool
	Received protocol.Timestamp
}

// TimeSyncSample holds the four timestamps of a completed exchange
type TimeSyncSample struct {
	Sent     protocol.Timestamp // T1, requester send time
	Received protocol.Timestamp // T2, replier receive time
	Replied  protocol.Timestamp // T3, replier send time
	Got      protocol.Timestamp // T4, requester receive time
	NTP      bool
}

// ClockSync estimates clock offset and round-trip time with peers
type ClockSync interface {
	// RecordSend reports that a request registered with T1 = old was
	// actually sent with T1 = now.
	RecordSend(old, now protocol.Timestamp)
	RequestReceived(c Conn, req TimeSyncRequest)
	ReplyReceived(c Conn, s TimeSyncSample)
}

// Crawler builds the payload of a UDP crawler pong
type Crawler interface {
	BuildPong(c Conn, ultras, leaves, features uint8) ([]byte, error)
}

// ConnectBack performs connect-back requests from remote peers
type ConnectBack interface {
	TCP(c Conn, port uint16)
	UDP(addr netip.Addr, port uint16, guid protocol.GUID)
}

type nopStats struct{}

func (nopStats) Dropped(Conn, DropReason) {}
func (nopStats) Handled(Descriptor) {}

type nopSearch struct{}

func (nopSearch) KeptResults(protocol.GUID) (uint32, bool) { return 0, false }
func (nopSearch) OOBPending(Conn, protocol.GUID, int, bool) {}
func (nopSearch) OOBDeliver(Conn, protocol.GUID, int) {}

type nopDynamicQuery struct{}

func (nopDynamicQuery) QueryStatus(protocol.GUID, uint64, uint16) {}

type nopPushProxies struct{}

func (nopPushProxies) Add(Conn, protocol.GUID) bool { return false }
func (nopPushProxies) Remove(Conn, bool) {}
func (nopPushProxies) RecordRemoteProxy(Conn, netip.AddrPort) {}

type nopClockSync struct{}

func (nopClockSync) RecordSend(protocol.Timestamp, protocol.Timestamp) {}
func (nopClockSync) RequestReceived(Conn, TimeSyncRequest) {}
func (nopClockSync) ReplyReceived(Conn, TimeSyncSample) {}

type nopCrawler struct{}

func (nopCrawler) BuildPong(Conn, uint8, uint8, uint8) ([]byte, error) {
	return nil, ErrUnknownMessage
}

type nopConnectBack struct{}

func (nopConnectBack) TCP(Conn, uint16) {}
func (nopConnectBack) UDP(netip.Addr, uint16, protocol.GUID) {}
