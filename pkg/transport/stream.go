// Package transport carries Gnutella messages between nodes: framed over
// libp2p streams for connected peers, and as raw UDP datagrams.
package transport

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/network"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	p2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	p2pproto "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stream protocols. A peer opens its streams with the protocol of its own
// role, which tells the other side whether it talks to a leaf.
const (
	ProtocolLeaf  = p2pproto.ID("/gnutella/vmsg/leaf/0.6")
	ProtocolUltra = p2pproto.ID("/gnutella/vmsg/ultra/0.6")
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second

	handshakeTimeout = 10 * time.Second
)

var ErrDuplicatePeer = errors.New("already connected to peer")

// StreamConfig configures a StreamHost
type StreamConfig struct {
	ListenAddrs []string       // multiaddrs
	PrivateKey  crypto.PrivKey // optional, generated when nil
	Leaf        bool           // our role
	UserAgent   string         // advertised through libp2p identify
	Locale      string         // 2-letter language, "en" when empty
	MaxQueue    int

	// OnConnect is called for each new node before its loops start,
	// OnDisconnect once they are done.
	OnConnect    func(*network.Node)
	OnDisconnect func(*network.Node)

	Logger *zap.Logger
}

// StreamHost runs Gnutella connections over libp2p streams
type StreamHost struct {
	host    host.Host
	pool    *network.Pool
	handler network.Handler
	cfg     StreamConfig
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamHost creates the libp2p host and starts accepting streams.
// Nodes are registered in pool and their messages handed to handler.
func NewStreamHost(ctx context.Context, cfg StreamConfig, pool *network.Pool, handler network.Handler) (*StreamHost, error) {
	priv := cfg.PrivateKey
	if priv == nil {
		var err error
		priv, _, err = crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key pair: %w", err)
		}
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.UserAgent(cfg.UserAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hostCtx, cancel := context.WithCancel(ctx)
	s := &StreamHost{
		host:    h,
		pool:    pool,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		ctx:     hostCtx,
		cancel:  cancel,
	}

	h.SetStreamHandler(ProtocolLeaf, func(st p2pnet.Stream) { s.accept(st, true) })
	h.SetStreamHandler(ProtocolUltra, func(st p2pnet.Stream) { s.accept(st, false) })

	return s, nil
}

// ID returns the libp2p peer ID of the host
func (s *StreamHost) ID() peer.ID {
	return s.host.ID()
}

// Addrs returns the dialable p2p multiaddrs of the host
func (s *StreamHost) Addrs() []string {
	var addrs []string
	for _, a := range s.host.Addrs() {
		addrs = append(addrs, a.String()+"/p2p/"+s.host.ID().String())
	}
	return addrs
}

func (s *StreamHost) role() p2pproto.ID {
	if s.cfg.Leaf {
		return ProtocolLeaf
	}
	return ProtocolUltra
}

func (s *StreamHost) accept(st p2pnet.Stream, leaf bool) {
	locale, err := s.handshake(st, false)
	if err == nil {
		_, _, err = s.attach(st, leaf, locale)
	}
	if err != nil {
		s.logger.Debug("refusing stream",
			zap.Stringer("peer", st.Conn().RemotePeer()), zap.Error(err))
		st.Reset()
	}
}

// Dial connects to the p2p multiaddr addr. The remote side is an
// ultrapeer, leaves never accept connections. The returned channel is
// closed once the connection is gone.
func (s *StreamHost) Dial(ctx context.Context, addr string) (*network.Node, <-chan struct{}, error) {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid peer address %s: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse peer info from %s: %w", addr, err)
	}

	if err := s.host.Connect(ctx, *info); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", info.ID, err)
	}

	st, err := s.host.NewStream(ctx, info.ID, s.role())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stream to %s: %w", info.ID, err)
	}

	locale, err := s.handshake(st, true)
	if err != nil {
		st.Reset()
		return nil, nil, fmt.Errorf("handshake with %s failed: %w", info.ID, err)
	}

	n, done, err := s.attach(st, false, locale)
	if err != nil {
		st.Reset()
		return nil, nil, err
	}
	return n, done, nil
}

// Keep stays connected to addr until ctx is done, redialing with an
// exponential backoff.
func (s *StreamHost) Keep(ctx context.Context, addr string) {
	backoff := initialBackoff

	for {
		n, done, err := s.Dial(ctx, addr)
		if err == nil {
			s.logger.Info("connected", zap.Stringer("node", n), zap.String("addr", addr))
			backoff = initialBackoff

			select {
			case <-ctx.Done():
				return
			case <-done:
			}
			s.logger.Info("connection lost", zap.String("addr", addr))
		} else {
			s.logger.Warn("dial failed", zap.String("addr", addr), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// attach registers a node for st and runs its read and write loops
func (s *StreamHost) attach(st p2pnet.Stream, leaf bool, locale string) (*network.Node, <-chan struct{}, error) {
	remotePeer := st.Conn().RemotePeer()
	key := remotePeer.String()
	remote, _ := AddrPortOf(st.Conn().RemoteMultiaddr())

	n, created, err := s.pool.GetOrCreate(key, func() *network.Node {
		return network.NewNode(network.NodeConfig{
			Name:      remotePeer.ShortString(),
			Leaf:      leaf,
			Remote:    remote,
			UserAgent: s.agentOf(remotePeer),
			Locale:    locale,
			Write: func(frame []byte) error {
				_, err := st.Write(frame)
				return err
			},
			MaxQueue: s.cfg.MaxQueue,
			Logger:   s.logger,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	if !created {
		return nil, nil, fmt.Errorf("%w %s", ErrDuplicatePeer, remotePeer)
	}

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(n)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)

		// Unblocks the reader
		go func() {
			<-ctx.Done()
			st.Reset()
		}()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer cancel()
			return n.Queue().Run(gctx)
		})
		g.Go(func() error {
			defer cancel()
			defer n.Close()
			return network.ReadLoop(gctx, n, st, s.handler)
		})
		err := g.Wait()

		s.pool.Remove(key)
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(n)
		}
		s.logger.Debug("stream closed", zap.Stringer("node", n), zap.Error(err))
	}()

	return n, done, nil
}

// handshake swaps locales with the peer, as the X-Locale-Pref header of a
// Gnutella handshake. Each side sends 2 bytes, the dialer first.
func (s *StreamHost) handshake(st p2pnet.Stream, dialer bool) (string, error) {
	if err := st.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return "", err
	}

	ours := []byte(LocalePref(s.cfg.Locale))
	theirs := make([]byte, 2)

	if dialer {
		if _, err := st.Write(ours); err != nil {
			return "", err
		}
	}
	if _, err := io.ReadFull(st, theirs); err != nil {
		return "", err
	}
	if !dialer {
		if _, err := st.Write(ours); err != nil {
			return "", err
		}
	}

	if err := st.SetDeadline(time.Time{}); err != nil {
		return "", err
	}
	return LocalePref(string(theirs)), nil
}

// LocalePref returns the lower-cased 2-letter language leading locale, or
// "en" when it does not start with two ASCII letters
func LocalePref(locale string) string {
	if len(locale) < 2 || !isASCIILetter(locale[0]) || !isASCIILetter(locale[1]) {
		return "en"
	}
	return strings.ToLower(locale[:2])
}

func isASCIILetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// agentOf returns the user agent learned by identify, if any
func (s *StreamHost) agentOf(p peer.ID) string {
	v, err := s.host.Peerstore().Get(p, "AgentVersion")
	if err != nil {
		return ""
	}
	agent, _ := v.(string)
	return agent
}

// Close shuts every connection and the host
func (s *StreamHost) Close() error {
	s.cancel()
	s.wg.Wait()
	return s.host.Close()
}

// AddrPortOf extracts the IP and TCP or UDP port of a multiaddr
func AddrPortOf(ma multiaddr.Multiaddr) (netip.AddrPort, bool) {
	ipStr, err := ma.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		if ipStr, err = ma.ValueForProtocol(multiaddr.P_IP6); err != nil {
			return netip.AddrPort{}, false
		}
	}
	ip, err := netip.ParseAddr(ipStr)
	if err != nil {
		return netip.AddrPort{}, false
	}

	portStr, err := ma.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		if portStr, err = ma.ValueForProtocol(multiaddr.P_UDP); err != nil {
			return netip.AddrPortFrom(ip, 0), false
		}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPortFrom(ip, 0), false
	}

	return netip.AddrPortFrom(ip, uint16(port)), true
}
