package vmsg

import (
	"errors"
	"fmt"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"go.uber.org/zap"
)

// Dispatcher parses inbound vendor messages and routes them to the
// collaborators. A Dispatcher holds no per-message state: Handle may be
// called from several connections at once.
type Dispatcher struct {
	registry    *Registry
	enc         *Encoder
	stats       Stats
	search      Search
	dq          DynamicQuery
	proxies     PushProxies
	clock       ClockSync
	crawler     Crawler
	connectBack ConnectBack
	now         Clock
	logger      *zap.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithStats sets the drop and handled counters
func WithStats(s Stats) Option {
	return func(d *Dispatcher) {
		d.stats = s
	}
}

// WithSearch sets the search collaborator
func WithSearch(s Search) Option {
	return func(d *Dispatcher) {
		d.search = s
	}
}

// WithDynamicQuery sets the receiver of leaf query status feedback
func WithDynamicQuery(dq DynamicQuery) Option {
	return func(d *Dispatcher) {
		d.dq = dq
	}
}

// WithPushProxies sets the push-proxy table
func WithPushProxies(p PushProxies) Option {
	return func(d *Dispatcher) {
		d.proxies = p
	}
}

// WithClockSync sets the clock-sync estimator
func WithClockSync(cs ClockSync) Option {
	return func(d *Dispatcher) {
		d.clock = cs
	}
}

// WithCrawler sets the crawler pong builder
func WithCrawler(c Crawler) Option {
	return func(d *Dispatcher) {
		d.crawler = c
	}
}

// WithConnectBack sets the connect-back collaborator
func WithConnectBack(cb ConnectBack) Option {
	return func(d *Dispatcher) {
		d.connectBack = cb
	}
}

// WithClock sets the reference clock stamping time-sync arrivals
func WithClock(now Clock) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithRegistry replaces the table of handled messages
func WithRegistry(r *Registry) Option {
	return func(d *Dispatcher) {
		d.registry = r
	}
}

// NewDispatcher creates a dispatcher replying through enc. Collaborators
// that are not configured are replaced by no-ops.
func NewDispatcher(enc *Encoder, options ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:    DefaultRegistry(),
		enc:         enc,
		stats:       nopStats{},
		search:      nopSearch{},
		dq:          nopDynamicQuery{},
		proxies:     nopPushProxies{},
		clock:       nopClockSync{},
		crawler:     nopCrawler{},
		connectBack: nopConnectBack{},
		now:         SystemClock,
		logger:      zap.NewNop(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Registry returns the table used for lookups
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Handle processes one vendor message received on c. h is the generic
// header and payload the message body, starting with the vendor sub-header.
//
// A non-nil error means the message was dropped. It has already been
// counted and logged; the connection must be kept.
func (d *Dispatcher) Handle(c Conn, h *protocol.Header, payload []byte) error {
	var t protocol.VendorHeader
	if err := t.Decode(payload); err != nil {
		return d.reject(c, payload, fmt.Errorf("%w: %d bytes", ErrEnvelopeTooSmall, len(payload)))
	}

	desc, ok := d.registry.LookupType(t)
	if !ok {
		return d.reject(c, payload, fmt.Errorf("%w: %s", ErrUnknownMessage, d.registry.Format(t)))
	}

	body := payload[protocol.VendorHeaderSize:]

	var err error
	switch desc.Kind {
	case KindMessagesSupported:
		err = d.handleMessagesSupported(c, desc, body)
	case KindFeaturesSupported:
		err = d.handleFeaturesSupported(c, desc, body)
	case KindHopsFlow:
		err = d.handleHopsFlow(c, desc, body)
	case KindTCPConnectBack:
		err = d.handleTCPConnectBack(c, desc, body)
	case KindUDPConnectBack:
		err = d.handleUDPConnectBack(c, h, desc, body)
	case KindQueryStatusRequest:
		err = d.handleQueryStatusRequest(c, h, desc, body)
	case KindQueryStatusReply:
		err = d.handleQueryStatusReply(c, h, desc, body)
	case KindTimeSyncRequest:
		err = d.handleTimeSyncRequest(c, h, desc, body)
	case KindTimeSyncReply:
		err = d.handleTimeSyncReply(c, h, desc, body)
	case KindProxyRequest:
		err = d.handleProxyRequest(c, h, desc, body)
	case KindProxyAck:
		err = d.handleProxyAck(c, desc, body)
	case KindProxyCancel:
		err = d.handleProxyCancel(c, desc, body)
	case KindOOBReplyIndication:
		err = d.handleOOBReplyIndication(c, h, desc, body)
	case KindOOBReplyAck:
		err = d.handleOOBReplyAck(c, h, desc, body)
	case KindUDPCrawlerPing:
		err = d.handleUDPCrawlerPing(c, h, desc, body)
	default:
		// Registered but not receivable
		err = fmt.Errorf("%w: %s", ErrUnknownMessage, desc)
	}

	if err != nil {
		return d.reject(c, payload, err)
	}

	d.stats.Handled(desc)
	return nil
}

// reject counts and logs a dropped message, returning err unchanged
func (d *Dispatcher) reject(c Conn, payload []byte, err error) error {
	reason := dropReasonOf(err)
	d.stats.Dropped(c, reason)

	fields := []zap.Field{
		zap.Stringer("node", c),
		zap.String("msg", d.registry.InfoString(payload)),
		zap.Stringer("reason", reason),
		zap.Error(err),
	}

	var sizeErr *PayloadSizeError
	if errors.As(err, &sizeErr) {
		fields = append(fields, zap.Int("expected", sizeErr.Expected), zap.Int("actual", sizeErr.Actual))
	}

	switch reason {
	case DropTooSmall, DropUnknownType, DropBadSize:
		d.logger.Debug("dropped vendor message", fields...)
	default:
		d.logger.Warn("dropped vendor message", fields...)
	}

	return err
}

// udpOnly rejects messages that must come over the datagram transport
func udpOnly(c Conn, desc Descriptor) error {
	if !c.IsUDP() {
		return fmt.Errorf("%s via TCP: %w", desc, ErrWrongTransport)
	}
	return nil
}
