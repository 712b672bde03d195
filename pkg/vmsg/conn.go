package vmsg

import (
	"net/netip"
	"strings"
	"sync"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
)

// Attr is a set of peer capabilities inferred from vendor messages
type Attr uint32

const (
	AttrLeafGuide Attr = 1 << iota // supports leaf-guided dynamic queries
	AttrTimeSync                   // supports time synchronization
	AttrCrawlable                  // answers UDP crawler pings
)

// Has checks if all bits of b are set
func (a Attr) Has(b Attr) bool {
	return a&b == b
}

func (a Attr) String() string {
	var parts []string
	if a.Has(AttrLeafGuide) {
		parts = append(parts, "leaf-guide")
	}
	if a.Has(AttrTimeSync) {
		parts = append(parts, "time-sync")
	}
	if a.Has(AttrCrawlable) {
		parts = append(parts, "crawlable")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Priority selects the lane of the outbound queue
type Priority uint8

const (
	PriorityNormal  Priority = iota
	PriorityControl          // sent ahead of queued normal traffic
)

// Conn is the connection a vendor message arrived on or is sent to
type Conn interface {
	// ID is the stable identity of the peer for this session
	ID() uint64
	String() string

	// IsUDP reports a connectionless (datagram) peer
	IsUDP() bool
	IsLeaf() bool
	IsWritable() bool

	// RemoteAddr is the peer address observed on the socket
	RemoteAddr() netip.AddrPort

	SetAttr(a Attr)
	SetHopsFlow(hops uint8)

	// Enqueue hands a built message to the send path
	Enqueue(p *PendingSend)
}

// StampFunc patches a built frame in place right before transmission
type StampFunc func(frame []byte)

// PendingSend is a fully built message waiting in the send path.
//
// The send path must call Commit exactly when the frame is about to be
// written, so that deferred stamps capture the real transmission instant.
// The stamp runs at most once and must not block.
type PendingSend struct {
	Priority Priority
	Type     protocol.VendorHeader

	frame []byte
	stamp StampFunc
	once  sync.Once
}

// Prepare wraps a built frame for the send path
func Prepare(frame []byte, t protocol.VendorHeader, prio Priority) *PendingSend {
	return &PendingSend{Priority: prio, Type: t, frame: frame}
}

// WithStamp attaches the deferred patch run by Commit
func (p *PendingSend) WithStamp(fn StampFunc) *PendingSend {
	p.stamp = fn
	return p
}

// Commit runs the deferred stamp, once, and returns the bytes to write
func (p *PendingSend) Commit() []byte {
	p.once.Do(func() {
		if p.stamp != nil {
			p.stamp(p.frame)
		}
	})
	return p.frame
}

// Frame returns the frame without running the stamp
func (p *PendingSend) Frame() []byte {
	return p.frame
}

// MUID returns the message identifier currently held in the frame
func (p *PendingSend) MUID() protocol.GUID {
	var g protocol.GUID
	copy(g[:], p.frame[:16])
	return g
}

// Len returns the frame size
func (p *PendingSend) Len() int {
	return len(p.frame)
}
