// Package search keeps the local state of searches needed by the vendor
// messages: how many results each of our queries kept, the out-of-band
// results we hold for others, and the leaf feedback on dynamic queries.
package search

import (
	"errors"
	"sync"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// Defaults for the cache sizes
const (
	DefaultMaxQueries    = 1024
	DefaultMaxOOBResults = 512
)

// Most hits claimed by a single OOB Reply Ack
const maxClaim = 254

var ErrUnknownQuery = errors.New("unknown query")

// Query is one of our searches
type Query struct {
	MUID   protocol.GUID
	Wanted uint32 // results we still want, zero for no limit
	Kept   uint32 // results that passed our filters
	Closed bool

	// Kept results per leaf, from query status replies
	feedback map[uint64]uint16
}

// Table holds the search state. It is safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	queries *lru.Cache // protocol.GUID -> *Query
	held    *lru.Cache // protocol.GUID -> [][]byte

	enc    *vmsg.Encoder
	logger *zap.Logger
}

// Option configures a Table
type Option func(*Table)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// NewTable creates a table remembering up to maxQueries searches and
// holding OOB results for up to maxHeld queries.
func NewTable(enc *vmsg.Encoder, maxQueries, maxHeld int, options ...Option) (*Table, error) {
	if maxQueries <= 0 {
		maxQueries = DefaultMaxQueries
	}
	if maxHeld <= 0 {
		maxHeld = DefaultMaxOOBResults
	}

	queries, err := lru.New(maxQueries)
	if err != nil {
		return nil, err
	}
	held, err := lru.New(maxHeld)
	if err != nil {
		return nil, err
	}

	t := &Table{
		queries: queries,
		held:    held,
		enc:     enc,
		logger:  zap.NewNop(),
	}

	for _, opt := range options {
		opt(t)
	}

	return t, nil
}

// Register starts tracking a query wanting up to wanted results
func (t *Table) Register(muid protocol.GUID, wanted uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.queries.Add(muid, &Query{MUID: muid, Wanted: wanted, feedback: make(map[uint64]uint16)})
}

func (t *Table) query(muid protocol.GUID) (*Query, bool) {
	v, ok := t.queries.Get(muid)
	if !ok {
		return nil, false
	}
	return v.(*Query), true
}

// AddKept records results that passed our filters
func (t *Table) AddKept(muid protocol.GUID, n uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.query(muid)
	if !ok {
		return ErrUnknownQuery
	}
	q.Kept += n
	return nil
}

// Close stops a query; late results are no longer wanted
func (t *Table) Close(muid protocol.GUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if q, ok := t.query(muid); ok {
		q.Closed = true
	}
}

// Get returns a copy of a query
func (t *Table) Get(muid protocol.GUID) (Query, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.query(muid)
	if !ok {
		return Query{}, false
	}
	cp := *q
	cp.feedback = nil
	return cp, true
}

// KeptResults returns how many results we kept for a live query
func (t *Table) KeptResults(muid protocol.GUID) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.query(muid)
	if !ok || q.Closed {
		return 0, false
	}
	return q.Kept, true
}

// missing returns how many results q still wants, capped for one claim
func (q *Query) missing() int {
	if q.Wanted == 0 {
		return maxClaim
	}
	if q.Kept >= q.Wanted {
		return 0
	}
	return int(min(q.Wanted-q.Kept, maxClaim))
}

// OOBPending claims the hits a remote host holds for one of our queries
func (t *Table) OOBPending(c vmsg.Conn, muid protocol.GUID, hits int, canRecvUnsolicited bool) {
	t.mu.Lock()
	q, ok := t.query(muid)
	var want int
	if ok && !q.Closed {
		want = min(hits, q.missing())
	}
	t.mu.Unlock()

	if want == 0 {
		t.logger.Debug("ignoring OOB hits",
			zap.Stringer("node", c), zap.Stringer("muid", muid), zap.Int("hits", hits))
		return
	}

	if _, err := t.enc.SendOOBReplyAck(c, muid, uint8(want)); err != nil {
		t.logger.Warn("cannot claim OOB hits", zap.Stringer("node", c), zap.Error(err))
		return
	}

	t.logger.Debug("claimed OOB hits",
		zap.Stringer("node", c),
		zap.Stringer("muid", muid),
		zap.Int("want", want),
		zap.Bool("unsolicited", canRecvUnsolicited),
	)
}

// Hold buffers query hits for delivery on request, and returns the
// indication to send to the querying host. Hits are encoded messages.
func (t *Table) Hold(muid protocol.GUID, hits [][]byte) *vmsg.PendingSend {
	if len(hits) == 0 {
		return nil
	}

	t.mu.Lock()
	var all [][]byte
	if v, ok := t.held.Get(muid); ok {
		all = v.([][]byte)
	}
	all = append(all, hits...)
	t.held.Add(muid, all)
	t.mu.Unlock()

	return t.enc.BuildOOBReplyIndication(muid, uint8(min(len(all), 255)), 2)
}

// Held returns how many hits are buffered for a query
func (t *Table) Held(muid protocol.GUID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.held.Peek(muid); ok {
		return len(v.([][]byte))
	}
	return 0
}

// OOBDeliver sends up to wanted buffered hits. The rest are dropped, the
// querying host told us what it wanted.
func (t *Table) OOBDeliver(c vmsg.Conn, muid protocol.GUID, wanted int) {
	t.mu.Lock()
	var hits [][]byte
	if v, ok := t.held.Get(muid); ok {
		hits = v.([][]byte)
		t.held.Remove(muid)
	}
	t.mu.Unlock()

	if len(hits) == 0 {
		t.logger.Debug("no OOB hits to deliver", zap.Stringer("node", c), zap.Stringer("muid", muid))
		return
	}

	n := min(wanted, len(hits))
	for _, hit := range hits[:n] {
		c.Enqueue(vmsg.Prepare(hit, protocol.VendorHeader{}, vmsg.PriorityNormal))
	}

	t.logger.Debug("delivered OOB hits",
		zap.Stringer("node", c), zap.Stringer("muid", muid), zap.Int("sent", n), zap.Int("held", len(hits)))
}

// QueryStatus records a leaf's report of kept results for a query. The
// stop sentinel closes the query.
func (t *Table) QueryStatus(muid protocol.GUID, node uint64, kept uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.query(muid)
	if !ok {
		return
	}

	if kept == vmsg.QueryStatusStop {
		q.Closed = true
		return
	}
	q.feedback[node] = kept
}

// Feedback returns the kept counts reported by leaves for a query
func (t *Table) Feedback(muid protocol.GUID) map[uint64]uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.query(muid)
	if !ok {
		return nil
	}

	out := make(map[uint64]uint16, len(q.feedback))
	for k, v := range q.feedback {
		out[k] = v
	}
	return out
}

// Len returns the number of tracked queries
func (t *Table) Len() int {
	return t.queries.Len()
}

var (
	_ vmsg.Search       = (*Table)(nil)
	_ vmsg.DynamicQuery = (*Table)(nil)
)
