package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/network"
	"go.uber.org/zap"
)

// UDPIdleTimeout is how long a datagram peer is remembered without traffic
const UDPIdleTimeout = 5 * time.Minute

const maxDatagram = 64 * 1024

// UDPListener receives Gnutella datagrams. Each remote address is a
// datagram Node in the pool, created on its first datagram.
type UDPListener struct {
	conn    *net.UDPConn
	pool    *network.Pool
	handler network.Handler
	logger  *zap.Logger

	mu   sync.Mutex
	seen map[string]time.Time
	wg   sync.WaitGroup
}

// ListenUDP binds addr (host:port)
func ListenUDP(addr string, pool *network.Pool, handler network.Handler, logger *zap.Logger) (*UDPListener, error) {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid UDP address %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(ap))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &UDPListener{
		conn:    conn,
		pool:    pool,
		handler: handler,
		logger:  logger,
		seen:    make(map[string]time.Time),
	}, nil
}

// LocalAddr returns the bound address
func (u *UDPListener) LocalAddr() netip.AddrPort {
	ap := u.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// WriteTo sends one datagram
func (u *UDPListener) WriteTo(frame []byte, addr netip.AddrPort) error {
	_, err := u.conn.WriteToUDPAddrPort(frame, addr)
	return err
}

var _ network.DatagramWriter = (*UDPListener)(nil)

// Serve reads datagrams until ctx is done or the socket is closed
func (u *UDPListener) Serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		u.wg.Wait()
	}()

	go func() {
		<-ctx.Done()
		u.conn.Close()
	}()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.expireLoop(ctx)
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := u.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if parent.Err() != nil || errors.Is(err, net.ErrClosed) {
				return parent.Err()
			}
			u.logger.Warn("UDP read failed", zap.Error(err))
			continue
		}

		node, err := u.node(ctx, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()))
		if err != nil {
			u.logger.Debug("dropping datagram", zap.Stringer("from", from), zap.Error(err))
			continue
		}

		if err := network.HandleDatagram(node, buf[:n], u.handler); err != nil {
			u.logger.Debug("bad datagram", zap.Stringer("node", node), zap.Error(err))
		}
	}
}

func (u *UDPListener) node(ctx context.Context, from netip.AddrPort) (*network.Node, error) {
	key := "udp/" + from.String()

	n, created, err := u.pool.GetOrCreate(key, func() *network.Node {
		return network.NewNode(network.NodeConfig{
			UDP:    true,
			Remote: from,
			Write: func(frame []byte) error {
				return u.WriteTo(frame, from)
			},
			Logger: u.logger,
		})
	})
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	u.seen[key] = time.Now()
	u.mu.Unlock()

	if created {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			n.Queue().Run(ctx)
		}()
	}
	return n, nil
}

func (u *UDPListener) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(UDPIdleTimeout / 5)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			u.expire(now.Add(-UDPIdleTimeout))
		}
	}
}

// expire forgets the datagram peers idle since before
func (u *UDPListener) expire(before time.Time) int {
	u.mu.Lock()
	var idle []string
	for key, at := range u.seen {
		if at.Before(before) {
			idle = append(idle, key)
			delete(u.seen, key)
		}
	}
	u.mu.Unlock()

	for _, key := range idle {
		u.pool.Remove(key)
	}
	return len(idle)
}

// Close closes the socket
func (u *UDPListener) Close() error {
	return u.conn.Close()
}
