package tsync

import (
	"context"
	"sync"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"go.uber.org/zap"
)

// DefaultTimeout is how long a request waits for its reply
const DefaultTimeout = 60 * time.Second

// Sample is the outcome of one completed exchange with a node
type Sample struct {
	Node   uint64        `json:"node"`
	Offset time.Duration `json:"offset"` // remote clock minus ours
	Delay  time.Duration `json:"delay"`  // round-trip time, minus remote processing
	NTP    bool          `json:"ntp"`
	At     time.Time     `json:"at"`
}

// pendingKey identifies a request in flight. T1 alone is not unique:
// requests to several nodes may leave within the same microsecond.
type pendingKey struct {
	node uint64
	sent protocol.Timestamp
}

// Estimator runs time synchronization with peers: it sends requests,
// answers theirs, and turns the four timestamps of each exchange into an
// offset and a delay.
type Estimator struct {
	mu      sync.Mutex
	pending map[pendingKey]time.Time
	samples map[uint64]Sample

	enc     *vmsg.Encoder
	clock   *Clock
	ntp     bool
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures an Estimator
type Option func(*Estimator)

// WithNTP tells the estimator our clock is NTP-synchronized. It is then
// never adjusted, and peers are told they can trust it.
func WithNTP(ntp bool) Option {
	return func(e *Estimator) {
		e.ntp = ntp
	}
}

// WithTimeout sets how long requests wait for their reply
func WithTimeout(d time.Duration) Option {
	return func(e *Estimator) {
		e.timeout = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Estimator) {
		e.logger = logger
	}
}

// NewEstimator creates an estimator sending through enc and stamping with
// clock. enc should use clock.Now as its clock.
func NewEstimator(enc *vmsg.Encoder, clock *Clock, options ...Option) *Estimator {
	e := &Estimator{
		pending: make(map[pendingKey]time.Time),
		samples: make(map[uint64]Sample),
		enc:     enc,
		clock:   clock,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}

	for _, opt := range options {
		opt(e)
	}

	return e
}

// Request starts an exchange with c. It reports false when nothing was
// sent.
func (e *Estimator) Request(c vmsg.Conn) bool {
	node := c.ID()
	t1 := e.clock.Now()

	e.mu.Lock()
	e.pending[pendingKey{node, t1}] = time.Now()
	e.mu.Unlock()

	onStamp := func(old, now protocol.Timestamp) {
		e.rekey(node, old, now)
	}
	if e.enc.SendTimeSyncRequest(c, e.ntp, t1, onStamp) == nil {
		e.mu.Lock()
		delete(e.pending, pendingKey{node, t1})
		e.mu.Unlock()
		return false
	}

	return true
}

// rekey moves the request to node registered with T1 = old to the T1
// actually sent
func (e *Estimator) rekey(node uint64, old, now protocol.Timestamp) {
	if old == now {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if at, ok := e.pending[pendingKey{node, old}]; ok {
		delete(e.pending, pendingKey{node, old})
		e.pending[pendingKey{node, now}] = at
	}
}

// RecordSend re-keys the pending request registered with T1 = old. Without
// the node it is only done when a single request matches; Request itself
// re-keys through the node it sent to.
func (e *Estimator) RecordSend(old, now protocol.Timestamp) {
	e.mu.Lock()
	var (
		node    uint64
		matches int
	)
	for k := range e.pending {
		if k.sent == old {
			node = k.node
			matches++
		}
	}
	e.mu.Unlock()

	if matches == 1 {
		e.rekey(node, old, now)
	}
}

// RequestReceived answers a peer's request
func (e *Estimator) RequestReceived(c vmsg.Conn, req vmsg.TimeSyncRequest) {
	e.enc.SendTimeSyncReply(c, req.ID, e.ntp, req.Received)
}

// ReplyReceived completes an exchange we started
func (e *Estimator) ReplyReceived(c vmsg.Conn, s vmsg.TimeSyncSample) {
	key := pendingKey{c.ID(), s.Sent}

	e.mu.Lock()
	_, ok := e.pending[key]
	if ok {
		delete(e.pending, key)
	}
	e.mu.Unlock()

	if !ok {
		e.logger.Debug("unexpected time sync reply",
			zap.Stringer("node", c), zap.Time("t1", s.Sent.Time()))
		return
	}

	offset, delay := Compute(s)
	sample := Sample{
		Node:   c.ID(),
		Offset: offset,
		Delay:  delay,
		NTP:    s.NTP,
		At:     time.Now(),
	}

	e.mu.Lock()
	e.samples[sample.Node] = sample
	e.mu.Unlock()

	e.logger.Debug("time sync sample",
		zap.Stringer("node", c),
		zap.Duration("offset", offset),
		zap.Duration("delay", delay),
		zap.Bool("ntp", s.NTP),
	)

	// Only follow clocks we can trust, and only when the offset is
	// larger than the measurement error.
	if e.ntp || !s.NTP {
		return
	}
	if abs(offset) > delay {
		e.clock.Adjust(offset)
		e.logger.Info("adjusted reference clock",
			zap.Stringer("node", c), zap.Duration("by", offset), zap.Duration("offset", e.clock.Offset()))
	}
}

// Compute returns the clock offset and round-trip delay of an exchange:
// offset = ((T2-T1) + (T3-T4)) / 2 and delay = (T4-T1) - (T3-T2).
func Compute(s vmsg.TimeSyncSample) (offset, delay time.Duration) {
	offset = (s.Received.Sub(s.Sent) + s.Replied.Sub(s.Got)) / 2
	delay = s.Got.Sub(s.Sent) - s.Replied.Sub(s.Received)
	return offset, delay
}

// Samples returns the last sample per node
func (e *Estimator) Samples() []Sample {
	e.mu.Lock()
	defer e.mu.Unlock()

	samples := make([]Sample, 0, len(e.samples))
	for _, s := range e.samples {
		samples = append(samples, s)
	}
	return samples
}

// Pending returns the number of requests awaiting a reply
func (e *Estimator) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Forget drops the state kept for a node that went away
func (e *Estimator) Forget(node uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.samples, node)
	for k := range e.pending {
		if k.node == node {
			delete(e.pending, k)
		}
	}
}

// Expire drops requests older than the timeout
func (e *Estimator) Expire(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int
	for k, at := range e.pending {
		if now.Sub(at) > e.timeout {
			delete(e.pending, k)
			n++
		}
	}
	return n
}

// Run expires stale requests until ctx is done
func (e *Estimator) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if n := e.Expire(now); n > 0 {
				e.logger.Debug("time sync requests timed out", zap.Int("count", n))
			}
		}
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

var _ vmsg.ClockSync = (*Estimator)(nil)
