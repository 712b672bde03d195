package vmsg

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"go.uber.org/zap"
)

// Clock returns the current time on the reference clock shared with peers
type Clock func() protocol.Timestamp

// SystemClock reads the local wall clock
func SystemClock() protocol.Timestamp {
	return protocol.TimestampFromTime(time.Now())
}

// Encoder builds outgoing vendor messages
type Encoder struct {
	registry      *Registry
	guid          protocol.GUID
	listenAddr    func() netip.AddrPort
	udpFirewalled func() bool
	now           Clock
	logger        *zap.Logger
}

// EncoderOption configures an Encoder
type EncoderOption func(*Encoder)

// WithListenAddr sets the source of our listening address, advertised in
// push-proxy acknowledgments
func WithListenAddr(fn func() netip.AddrPort) EncoderOption {
	return func(e *Encoder) {
		e.listenAddr = fn
	}
}

// WithUDPFirewalled sets the source of our UDP-firewalled status
func WithUDPFirewalled(fn func() bool) EncoderOption {
	return func(e *Encoder) {
		e.udpFirewalled = fn
	}
}

// WithEncoderClock sets the reference clock used for send-time stamps
func WithEncoderClock(now Clock) EncoderOption {
	return func(e *Encoder) {
		e.now = now
	}
}

// WithEncoderLogger sets the logger
func WithEncoderLogger(logger *zap.Logger) EncoderOption {
	return func(e *Encoder) {
		e.logger = logger
	}
}

// WithEncoderRegistry sets the table advertised in Messages Supported
func WithEncoderRegistry(r *Registry) EncoderOption {
	return func(e *Encoder) {
		e.registry = r
	}
}

// NewEncoder creates an encoder for a servent with the given GUID
func NewEncoder(guid protocol.GUID, options ...EncoderOption) *Encoder {
	e := &Encoder{
		registry:      DefaultRegistry(),
		guid:          guid,
		listenAddr:    func() netip.AddrPort { return netip.AddrPort{} },
		udpFirewalled: func() bool { return true },
		now:           SystemClock,
		logger:        zap.NewNop(),
	}

	for _, opt := range options {
		opt(e)
	}

	return e
}

// GUID returns our servent GUID
func (e *Encoder) GUID() protocol.GUID {
	return e.guid
}

// BuildFrame writes the generic header and vendor sub-header into a fresh
// buffer and returns the frame together with its payload region.
//
// The MUID is blank, TTL is 1 and hops 0; callers overwrite the MUID when
// the message needs one. A frame larger than MaxMessageSize is an internal
// sizing bug and panics.
func BuildFrame(muid protocol.GUID, t protocol.VendorHeader, paysize int) (frame, payload []byte) {
	size := protocol.HeaderSize + protocol.VendorHeaderSize + paysize
	if size > protocol.MaxMessageSize {
		panic(fmt.Sprintf("vendor message is limited to %d bytes, would need %d",
			protocol.MaxMessageSize, size))
	}

	frame = make([]byte, size)

	h := protocol.Header{
		MUID:     muid,
		Function: protocol.FuncVendor,
		TTL:      1,
		Hops:     0,
		Size:     uint32(protocol.VendorHeaderSize + paysize),
	}
	h.Put(frame)
	t.Put(frame[protocol.HeaderSize:])

	return frame, frame[protocol.HeaderSize+protocol.VendorHeaderSize:]
}

func (e *Encoder) build(muid protocol.GUID, t protocol.VendorHeader, payload []byte, prio Priority) *PendingSend {
	frame, body := BuildFrame(muid, t, len(payload))
	copy(body, payload)
	return Prepare(frame, t, prio)
}

func (e *Encoder) send(c Conn, p *PendingSend) *PendingSend {
	c.Enqueue(p)
	if ce := e.logger.Check(zap.DebugLevel, "sent vendor message"); ce != nil {
		ce.Write(zap.Stringer("node", c), zap.String("msg", e.registry.Format(p.Type)))
	}
	return p
}

func msgType(vendor protocol.VendorCode, selector, version uint16) protocol.VendorHeader {
	return protocol.VendorHeader{Vendor: vendor, Selector: selector, Version: version}
}

// SendMessagesSupported tells c which vendor messages we understand. The
// null-vendor messages are always understood and are not listed.
func (e *Encoder) SendMessagesSupported(c Conn) *PendingSend {
	var items []protocol.VendorHeader
	for _, d := range e.registry.entries {
		if d.Vendor == protocol.VendorNone {
			continue
		}
		items = append(items, d.Type())
	}

	return e.send(c, e.build(protocol.BlankGUID,
		msgType(protocol.VendorNone, 0x0000, 0), encodeSupported(items), PriorityNormal))
}

// SendFeaturesSupported advertises extra features to c
func (e *Encoder) SendFeaturesSupported(c Conn, features []Feature) *PendingSend {
	return e.send(c, e.build(protocol.BlankGUID,
		msgType(protocol.VendorNone, 0x000a, 0), encodeFeatures(features), PriorityNormal))
}

// SendHopsFlow asks c to only forward queries below the given hop count
func (e *Encoder) SendHopsFlow(c Conn, hops uint8) *PendingSend {
	return e.send(c, e.build(protocol.BlankGUID,
		msgType(protocol.VendorBEAR, 0x0004, 1), []byte{hops}, PriorityControl))
}

// SendTCPConnectBack asks c to connect back to us on port
func (e *Encoder) SendTCPConnectBack(c Conn, port uint16) *PendingSend {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, port)

	return e.send(c, e.build(protocol.BlankGUID,
		msgType(protocol.VendorBEAR, 0x0007, 1), payload, PriorityNormal))
}

// SendUDPConnectBack asks c to ping us back over UDP on port. Version 1
// carries our GUID in the payload, version 2 in the MUID.
func (e *Encoder) SendUDPConnectBack(c Conn, port uint16, version uint16) *PendingSend {
	t := msgType(protocol.VendorGTKG, 0x0007, version)

	if version >= 2 {
		payload := make([]byte, 2)
		binary.LittleEndian.PutUint16(payload, port)
		return e.send(c, e.build(e.guid, t, payload, PriorityNormal))
	}

	payload := make([]byte, 18)
	binary.LittleEndian.PutUint16(payload[0:2], port)
	copy(payload[2:], e.guid[:])
	return e.send(c, e.build(protocol.BlankGUID, t, payload, PriorityNormal))
}

// SendProxyRequest asks the ultrapeer c to act as our push-proxy. The MUID
// is our servent GUID.
func (e *Encoder) SendProxyRequest(c Conn) (*PendingSend, error) {
	if c.IsLeaf() {
		return nil, fmt.Errorf("push-proxy request to %s: %w", c, ErrLeafTarget)
	}

	return e.send(c, e.build(e.guid,
		msgType(protocol.VendorLIME, 0x0015, 2), nil, PriorityNormal)), nil
}

// SendProxyAck acknowledges a push-proxy request from the servent guid,
// replying with the version of the request. Version 1 only bears our port,
// version 2 our IP and port.
func (e *Encoder) SendProxyAck(c Conn, guid protocol.GUID, version uint16) *PendingSend {
	addr := e.listenAddr()
	payload := make([]byte, proxyAckSize(version))

	if version >= 2 {
		ip := addr.Addr().Unmap()
		if ip.Is4() {
			b := ip.As4()
			copy(payload[0:4], b[:])
		}
		binary.LittleEndian.PutUint16(payload[4:6], addr.Port())
	} else {
		binary.LittleEndian.PutUint16(payload[0:2], addr.Port())
	}

	// Control lane, so that the leaf learns ASAP it can be reached
	return e.send(c, e.build(guid,
		msgType(protocol.VendorLIME, 0x0016, version), payload, PriorityControl))
}

// SendProxyCancel tells c we no longer need it as push-proxy
func (e *Encoder) SendProxyCancel(c Conn) *PendingSend {
	return e.send(c, e.build(protocol.BlankGUID,
		msgType(protocol.VendorGTKG, 0x0015, 1), nil, PriorityNormal))
}

// SendQueryStatusRequest asks the leaf c how many hits it kept for muid
func (e *Encoder) SendQueryStatusRequest(c Conn, muid protocol.GUID) *PendingSend {
	return e.send(c, e.build(muid,
		msgType(protocol.VendorBEAR, 0x000b, 1), nil, PriorityControl))
}

// SendQueryStatusReply tells c how many hits we kept for muid
func (e *Encoder) SendQueryStatusReply(c Conn, muid protocol.GUID, kept uint16) *PendingSend {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, kept)

	return e.send(c, e.build(muid,
		msgType(protocol.VendorBEAR, 0x000c, 1), payload, PriorityControl))
}

// BuildOOBReplyIndication builds, without sending, an indication that we
// hold hits for the query muid. Version 2 adds whether we can receive
// unsolicited UDP traffic.
func (e *Encoder) BuildOOBReplyIndication(muid protocol.GUID, hits uint8, version uint16) *PendingSend {
	t := msgType(protocol.VendorLIME, 0x000c, version)

	if version < 2 {
		return e.build(muid, t, []byte{hits}, PriorityControl)
	}

	payload := []byte{hits, boolFlag(!e.udpFirewalled(), unsolicitedFlag)}
	return e.build(muid, t, payload, PriorityControl)
}

// SendOOBReplyAck claims want hits for the query muid from the UDP peer c
func (e *Encoder) SendOOBReplyAck(c Conn, muid protocol.GUID, want uint8) (*PendingSend, error) {
	if !c.IsUDP() {
		return nil, fmt.Errorf("OOB reply ack to %s: %w", c, ErrWrongTransport)
	}

	return e.send(c, e.build(muid,
		msgType(protocol.VendorLIME, 0x000b, 2), []byte{want}, PriorityControl)), nil
}

// SendTimeSyncRequest asks c to echo back its time.
//
// sent is the T1 the caller registered. The first half of the MUID is
// overwritten with the real time when the message leaves the queue;
// onStamp then learns both values so it can reconcile its records.
// Nothing is sent when c is not writable.
func (e *Encoder) SendTimeSyncRequest(c Conn, ntp bool, sent protocol.Timestamp, onStamp func(old, now protocol.Timestamp)) *PendingSend {
	if !c.IsWritable() {
		return nil
	}

	id := protocol.ClockSyncID{Sent: sent}
	p := e.build(id.GUID(), msgType(protocol.VendorGTKG, 0x0009, 1),
		[]byte{boolFlag(ntp, ntpFlag)}, PriorityControl)

	p.WithStamp(func(frame []byte) {
		old := protocol.ReadTimestamp(frame[0:8])
		now := e.now()
		protocol.PutTimestamp(frame[0:8], now)

		if onStamp != nil {
			onStamp(old, now)
		}
	})

	return e.send(c, p)
}

// SendTimeSyncReply answers a Time Sync Request. got is T2, the time we
// received the request. The reply MUID keeps the request's T1 and gets T3
// stamped in its second half when the message leaves the queue.
func (e *Encoder) SendTimeSyncReply(c Conn, request protocol.ClockSyncID, ntp bool, got protocol.Timestamp) *PendingSend {
	if !c.IsWritable() {
		return nil
	}

	payload := make([]byte, 1+protocol.TimestampSize)
	payload[0] = boolFlag(ntp, ntpFlag)
	protocol.PutTimestamp(payload[1:], got)

	id := protocol.ClockSyncID{Sent: request.Sent}
	p := e.build(id.GUID(), msgType(protocol.VendorGTKG, 0x000a, 1), payload, PriorityControl)

	p.WithStamp(func(frame []byte) {
		protocol.PutTimestamp(frame[8:16], e.now())
	})

	return e.send(c, p)
}

// SendUDPCrawlerPing asks the UDP peer c for its neighbours
func (e *Encoder) SendUDPCrawlerPing(c Conn, ultras, leaves, features uint8) (*PendingSend, error) {
	if !c.IsUDP() {
		return nil, fmt.Errorf("crawler ping to %s: %w", c, ErrWrongTransport)
	}

	return e.send(c, e.build(protocol.NewMUID(),
		msgType(protocol.VendorLIME, 0x0005, 1), []byte{ultras, leaves, features}, PriorityNormal)), nil
}

// SendUDPCrawlerPong answers the crawler ping muid with an already built
// payload. The MUID of the ping is propagated so the crawler can match it.
func (e *Encoder) SendUDPCrawlerPong(c Conn, muid protocol.GUID, payload []byte) (*PendingSend, error) {
	if !c.IsUDP() {
		return nil, fmt.Errorf("crawler pong to %s: %w", c, ErrWrongTransport)
	}

	return e.send(c, e.build(muid, typeUDPCrawlerPong, payload, PriorityControl)), nil
}
