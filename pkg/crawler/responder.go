// Package crawler answers UDP crawler pings with the list of our
// neighbours, in the LimeWire crawler pong format:
//
//	[ultras][leaves][features]
//	ultras+leaves entries: ip (4, BE) port (2, LE) [minutes (2, LE)] [locale (2)]
//	[deflated "ua;ua;..." with our own user agent first]
package crawler

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/network"
	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"
)

const (
	pongHeaderSize = 3
	addrSize       = 6
	uaSeparator    = ";"
)

var ErrPongTooLarge = errors.New("crawler pong does not fit")

// Peer is a neighbour reported in crawler pongs
type Peer struct {
	ID        uint64
	Addr      netip.AddrPort
	Leaf      bool
	Crawlable bool
	Since     time.Time
	Locale    string
	UserAgent string
}

// Source lists our current neighbours
type Source interface {
	Peers() []Peer
}

// PoolSource reports the stream nodes of a pool
type PoolSource struct {
	Pool *network.Pool
}

func (s PoolSource) Peers() []Peer {
	var peers []Peer
	for _, n := range s.Pool.Nodes() {
		if n.IsUDP() {
			continue
		}
		peers = append(peers, Peer{
			ID:        n.ID(),
			Addr:      n.RemoteAddr(),
			Leaf:      n.IsLeaf(),
			Crawlable: n.Attr().Has(vmsg.AttrCrawlable),
			Since:     n.ConnectedSince(),
			Locale:    n.Locale(),
			UserAgent: n.UserAgent(),
		})
	}
	return peers
}

// Responder builds crawler pongs
type Responder struct {
	source    Source
	userAgent string
	maxSize   int
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Responder
type Option func(*Responder)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Responder) {
		r.logger = logger
	}
}

// WithNow sets the time source used for connection times
func WithNow(now func() time.Time) Option {
	return func(r *Responder) {
		r.now = now
	}
}

// WithMaxSize bounds the pong payload, protocol.MaxVendorPayload by default
func WithMaxSize(size int) Option {
	return func(r *Responder) {
		r.maxSize = size
	}
}

// NewResponder creates a responder reporting the peers of source.
// userAgent is ours, listed first when user agents are requested.
func NewResponder(source Source, userAgent string, options ...Option) *Responder {
	r := &Responder{
		source:    source,
		userAgent: userAgent,
		maxSize:   protocol.MaxVendorPayload,
		now:       time.Now,
		logger:    zap.NewNop(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// BuildPong returns the pong payload for a ping from c asking for ultras
// ultrapeers and leaves leaves.
func (r *Responder) BuildPong(c vmsg.Conn, ultras, leaves, features uint8) ([]byte, error) {
	var ups, lfs []Peer
	for _, p := range r.source.Peers() {
		if p.ID == c.ID() || !p.Addr.Addr().Unmap().Is4() {
			continue
		}
		if features&vmsg.CrawlNewPeers != 0 && !p.Crawlable {
			continue
		}
		if p.Leaf {
			if len(lfs) < int(leaves) {
				lfs = append(lfs, p)
			}
		} else if len(ups) < int(ultras) {
			ups = append(ups, p)
		}
	}

	for {
		payload, err := r.encode(ups, lfs, features)
		if err != nil {
			return nil, err
		}
		if len(payload) <= r.maxSize {
			r.logger.Debug("built crawler pong",
				zap.Stringer("node", c), zap.Int("ultras", len(ups)),
				zap.Int("leaves", len(lfs)), zap.Int("size", len(payload)))
			return payload, nil
		}

		// Too large: report less, leaves first
		switch {
		case len(lfs) > 0:
			lfs = lfs[:len(lfs)-1]
		case len(ups) > 0:
			ups = ups[:len(ups)-1]
		default:
			return nil, ErrPongTooLarge
		}
	}
}

func (r *Responder) encode(ups, lfs []Peer, features uint8) ([]byte, error) {
	features &= vmsg.CrawlerFeatureMask

	entry := addrSize
	if features&vmsg.CrawlConnectTime != 0 {
		entry += 2
	}
	if features&vmsg.CrawlLocale != 0 {
		entry += 2
	}

	buf := make([]byte, pongHeaderSize, pongHeaderSize+entry*(len(ups)+len(lfs)))
	buf[0] = uint8(len(ups))
	buf[1] = uint8(len(lfs))
	buf[2] = features

	now := r.now()
	agents := []string{r.userAgent}

	for _, p := range append(ups[:len(ups):len(ups)], lfs...) {
		ip := p.Addr.Addr().Unmap().As4()
		buf = append(buf, ip[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, p.Addr.Port())

		if features&vmsg.CrawlConnectTime != 0 {
			buf = binary.LittleEndian.AppendUint16(buf, connectedMinutes(now.Sub(p.Since)))
		}
		if features&vmsg.CrawlLocale != 0 {
			buf = append(buf, localeCode(p.Locale)...)
		}
		agents = append(agents, strings.ReplaceAll(p.UserAgent, uaSeparator, " "))
	}

	if features&vmsg.CrawlUserAgent != 0 {
		deflated, err := deflate(strings.Join(agents, uaSeparator))
		if err != nil {
			return nil, err
		}
		buf = append(buf, deflated...)
	}

	return buf, nil
}

func connectedMinutes(d time.Duration) uint16 {
	m := d / time.Minute
	switch {
	case m < 0:
		return 0
	case m > 0xffff:
		return 0xffff
	}
	return uint16(m)
}

// localeCode returns the 2-letter language of a locale, "en" when unknown.
// The entry size is fixed, so anything but two ASCII letters is unknown.
func localeCode(locale string) []byte {
	if len(locale) < 2 || !isASCIILetter(locale[0]) || !isASCIILetter(locale[1]) {
		return []byte("en")
	}
	return []byte(strings.ToLower(locale[:2]))
}

func isASCIILetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func deflate(s string) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Inflate decodes the user-agent list of a pong
func Inflate(b []byte) ([]string, error) {
	rd, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rd); err != nil {
		return nil, err
	}
	return strings.Split(buf.String(), uaSeparator), nil
}

var _ vmsg.Crawler = (*Responder)(nil)
