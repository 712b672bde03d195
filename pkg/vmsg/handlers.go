package vmsg

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"go.uber.org/zap"
)

func (d *Dispatcher) handleMessagesSupported(c Conn, desc Descriptor, body []byte) error {
	// Only meaningful on a stream connection
	if c.IsUDP() {
		return nil
	}

	items, err := decodeSupported(desc, body)
	if err != nil {
		return err
	}

	attr, unknown := InferCapabilities(d.registry, items)
	if attr != 0 {
		c.SetAttr(attr)
	}

	if ce := d.logger.Check(zap.DebugLevel, "peer supports vendor messages"); ce != nil {
		ce.Write(
			zap.Stringer("node", c),
			zap.Int("count", len(items)),
			zap.Int("unknown", len(unknown)),
			zap.Stringer("attr", attr),
		)
	}
	for _, t := range unknown {
		d.logger.Debug("peer supports unknown vendor message",
			zap.Stringer("node", c), zap.String("msg", d.registry.Format(t)))
	}

	return nil
}

func (d *Dispatcher) handleFeaturesSupported(c Conn, desc Descriptor, body []byte) error {
	features, err := decodeFeatures(desc, body)
	if err != nil {
		return err
	}

	for _, f := range features {
		d.logger.Debug("peer supports feature",
			zap.Stringer("node", c),
			zap.Stringer("vendor", f.Vendor),
			zap.Uint16("version", f.Version),
		)
	}

	return nil
}

func (d *Dispatcher) handleHopsFlow(c Conn, desc Descriptor, body []byte) error {
	if err := expectSize(desc, body, 1); err != nil {
		return err
	}

	c.SetHopsFlow(body[0])
	return nil
}

func (d *Dispatcher) handleTCPConnectBack(c Conn, desc Descriptor, body []byte) error {
	if err := expectSize(desc, body, 2); err != nil {
		return err
	}

	port := binary.LittleEndian.Uint16(body)
	if port == 0 {
		return fmt.Errorf("%s: %w 0", desc, ErrInvalidPort)
	}

	d.connectBack.TCP(c, port)
	return nil
}

func (d *Dispatcher) handleUDPConnectBack(c Conn, h *protocol.Header, desc Descriptor, body []byte) error {
	var guid protocol.GUID

	switch desc.Version {
	case 1:
		if err := expectSize(desc, body, 18); err != nil {
			return err
		}
		copy(guid[:], body[2:18])
	default:
		if err := expectSize(desc, body, 2); err != nil {
			return err
		}
		guid = h.MUID
	}

	port := binary.LittleEndian.Uint16(body)
	if port == 0 {
		return fmt.Errorf("%s: %w 0", desc, ErrInvalidPort)
	}

	d.connectBack.UDP(c.RemoteAddr().Addr(), port, guid)
	return nil
}

func (d *Dispatcher) handleQueryStatusRequest(c Conn, h *protocol.Header, desc Descriptor, body []byte) error {
	if err := expectSize(desc, body, 0); err != nil {
		return err
	}

	kept, known := d.search.KeptResults(h.MUID)
	d.enc.SendQueryStatusReply(c, h.MUID, clampKept(kept, known))
	return nil
}

func (d *Dispatcher) handleQueryStatusReply(c Conn, h *protocol.Header, desc Descriptor, body []byte) error {
	if err := expectSize(desc, body, 2); err != nil {
		return err
	}

	kept := binary.LittleEndian.Uint16(body)
	if kept == 0 {
		return nil
	}

	d.dq.QueryStatus(h.MUID, c.ID(), kept)
	return nil
}

func (d *Dispatcher) handleTimeSyncRequest(c Conn, h *protocol.Header, desc Descriptor, body []byte) error {
	// T2, taken before anything else
	got := d.now()

	if err := expectSize(desc, body, 1); err != nil {
		return err
	}

	d.clock.RequestReceived(c, TimeSyncRequest{
		ID:       protocol.ClockSyncFromGUID(h.MUID),
		NTP:      body[0]&ntpFlag != 0,
		Received: got,
	})
	return nil
}

func (d *Dispatcher) handleTimeSyncReply(c Conn, h *protocol.Header, desc Descriptor, body []byte) error {
	// T4, taken before anything else
	got := d.now()

	if err := expectSize(desc, body, 1+protocol.TimestampSize); err != nil {
		return err
	}

	id := protocol.ClockSyncFromGUID(h.MUID)
	d.clock.ReplyReceived(c, TimeSyncSample{
		Sent:     id.Sent,
		Received: protocol.ReadTimestamp(body[1:]),
		Replied:  id.Replied,
		Got:      got,
		NTP:      body[0]&ntpFlag != 0,
	})
	return nil
}

func (d *Dispatcher) handleProxyRequest(c Conn, h *protocol.Header, desc Descriptor, body []byte) error {
	if err := expectSize(desc, body, 0); err != nil {
		return err
	}

	if !c.IsLeaf() {
		d.logger.Warn("push-proxy request from non-leaf", zap.Stringer("node", c))
	}

	// The MUID is the servent GUID of the requester
	if d.proxies.Add(c, h.MUID) {
		d.enc.SendProxyAck(c, h.MUID, desc.Version)
	}
	return nil
}

func (d *Dispatcher) handleProxyAck(c Conn, desc Descriptor, body []byte) error {
	if err := expectSize(desc, body, proxyAckSize(desc.Version)); err != nil {
		return err
	}

	var addr netip.AddrPort
	if desc.Version >= 2 {
		ip := netip.AddrFrom4([4]byte(body[0:4]))
		addr = netip.AddrPortFrom(ip, binary.LittleEndian.Uint16(body[4:6]))
	} else {
		addr = netip.AddrPortFrom(c.RemoteAddr().Addr(), binary.LittleEndian.Uint16(body[0:2]))
	}

	if !validProxyAddr(addr) {
		return fmt.Errorf("%s: %w %s", desc, ErrInvalidAddress, addr)
	}

	d.proxies.RecordRemoteProxy(c, addr)
	return nil
}

// validProxyAddr checks for a non-zero IP and port
func validProxyAddr(addr netip.AddrPort) bool {
	ip := addr.Addr()
	return ip.IsValid() && !ip.IsUnspecified() && addr.Port() != 0
}

func (d *Dispatcher) handleProxyCancel(c Conn, desc Descriptor, body []byte) error {
	if err := expectSize(desc, body, 0); err != nil {
		return err
	}

	// Keep the route, results may still come back needing proxying
	d.proxies.Remove(c, true)
	return nil
}

func (d *Dispatcher) handleOOBReplyIndication(c Conn, h *protocol.Header, desc Descriptor, body []byte) error {
	if err := udpOnly(c, desc); err != nil {
		return err
	}

	var canRecvUnsolicited bool
	switch desc.Version {
	case 1:
		if err := expectSize(desc, body, 1); err != nil {
			return err
		}
	default:
		if err := expectSize(desc, body, 2); err != nil {
			return err
		}
		canRecvUnsolicited = body[1]&unsolicitedFlag != 0
	}

	hits := int(body[0])
	if hits == 0 {
		return fmt.Errorf("%s from %s: %w", desc, c, ErrNoResults)
	}

	d.search.OOBPending(c, h.MUID, hits, canRecvUnsolicited)
	return nil
}

func (d *Dispatcher) handleOOBReplyAck(c Conn, h *protocol.Header, desc Descriptor, body []byte) error {
	if err := udpOnly(c, desc); err != nil {
		return err
	}
	if err := expectSize(desc, body, 1); err != nil {
		return err
	}

	d.search.OOBDeliver(c, h.MUID, int(body[0]))
	return nil
}

func (d *Dispatcher) handleUDPCrawlerPing(c Conn, h *protocol.Header, desc Descriptor, body []byte) error {
	if err := udpOnly(c, desc); err != nil {
		return err
	}
	if err := expectSize(desc, body, 3); err != nil {
		return err
	}

	ultras, leaves := body[0], body[1]
	features := body[2] & CrawlerFeatureMask

	pong, err := d.crawler.BuildPong(c, ultras, leaves, features)
	if err != nil {
		d.logger.Warn("cannot build crawler pong", zap.Stringer("node", c), zap.Error(err))
		return nil
	}

	if _, err := d.enc.SendUDPCrawlerPong(c, h.MUID, pong); err != nil {
		d.logger.Warn("cannot send crawler pong", zap.Stringer("node", c), zap.Error(err))
	}
	return nil
}
