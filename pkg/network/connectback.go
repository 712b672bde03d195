package network

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"go.uber.org/zap"
)

// ConnectBackTimeout bounds a TCP connect-back attempt
const ConnectBackTimeout = 10 * time.Second

// connectBackProbe is what a TCP connect-back writes once connected
var connectBackProbe = []byte("\n\n")

// DatagramWriter sends a datagram to a UDP peer
type DatagramWriter interface {
	WriteTo(frame []byte, addr netip.AddrPort) error
}

// ConnectBack answers connect-back requests, letting peers check whether
// they can be reached from the outside.
type ConnectBack struct {
	udp    DatagramWriter
	dialer net.Dialer
	logger *zap.Logger

	// mu orders wg.Add against Close
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnectBack creates the collaborator. udp may be nil when we have no
// UDP socket, in which case UDP requests are ignored.
func NewConnectBack(udp DatagramWriter, logger *zap.Logger) *ConnectBack {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectBack{
		udp:    udp,
		dialer: net.Dialer{Timeout: ConnectBackTimeout},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// TCP connects to the peer on port and writes the probe. It returns at
// once, the attempt runs in the background. Requests after Close are
// ignored.
func (cb *ConnectBack) TCP(c vmsg.Conn, port uint16) {
	addr := netip.AddrPortFrom(c.RemoteAddr().Addr(), port)

	cb.mu.Lock()
	if cb.ctx.Err() != nil {
		cb.mu.Unlock()
		cb.logger.Debug("TCP connect-back after close", zap.Stringer("node", c))
		return
	}
	cb.wg.Add(1)
	cb.mu.Unlock()

	go func() {
		defer cb.wg.Done()

		if err := cb.probe(addr); err != nil {
			cb.logger.Debug("TCP connect-back failed",
				zap.Stringer("node", c), zap.Stringer("addr", addr), zap.Error(err))
			return
		}
		cb.logger.Debug("TCP connect-back done", zap.Stringer("node", c), zap.Stringer("addr", addr))
	}()
}

func (cb *ConnectBack) probe(addr netip.AddrPort) error {
	conn, err := cb.dialer.DialContext(cb.ctx, "tcp", addr.String())
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(ConnectBackTimeout)); err != nil {
		return err
	}
	_, err = conn.Write(connectBackProbe)
	return err
}

// UDP sends a ping to addr:port whose MUID is guid, so that the requester
// can recognize it.
func (cb *ConnectBack) UDP(addr netip.Addr, port uint16, guid protocol.GUID) {
	if cb.udp == nil {
		return
	}

	ping := protocol.NewMessage(protocol.FuncPing, 1, nil)
	ping.Header.MUID = guid

	to := netip.AddrPortFrom(addr, port)
	if err := cb.udp.WriteTo(ping.Encode(), to); err != nil {
		cb.logger.Debug("UDP connect-back failed", zap.Stringer("addr", to), zap.Error(err))
	}
}

// Close aborts pending connect-backs and waits for them
func (cb *ConnectBack) Close() {
	cb.mu.Lock()
	cb.cancel()
	cb.mu.Unlock()

	cb.wg.Wait()
}
