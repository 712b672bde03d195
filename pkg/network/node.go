package network

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"go.uber.org/zap"
)

// NoHopsFlow is the hops-flow value of a peer that never throttled us
const NoHopsFlow uint8 = 0xff

// Node is a connected Gnutella peer, over a stream or as a datagram source
type Node struct {
	id      uint64
	name    string
	udp     bool
	remote  netip.AddrPort
	created time.Time

	userAgent string
	locale    string

	leaf     atomic.Bool
	attr     atomic.Uint32
	hopsFlow atomic.Uint32

	queue  *Queue
	logger *zap.Logger
}

var lastNodeID atomic.Uint64

var _ vmsg.Conn = (*Node)(nil)

// NodeConfig describes a new node
type NodeConfig struct {
	Name   string
	UDP    bool
	Leaf   bool
	Remote netip.AddrPort

	// UserAgent comes from libp2p identify, Locale from the stream handshake
	UserAgent string
	Locale    string

	// Write sends one frame to the peer
	Write func(frame []byte) error

	// MaxQueue bounds the bytes queued on the normal lane. Zero means
	// DefaultMaxQueue.
	MaxQueue int

	Logger *zap.Logger
}

// NewNode creates a node. The caller must run Queue().Run to flush it.
func NewNode(cfg NodeConfig) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Node{
		id:        lastNodeID.Add(1),
		name:      cfg.Name,
		udp:       cfg.UDP,
		remote:    cfg.Remote,
		created:   time.Now(),
		userAgent: cfg.UserAgent,
		locale:    cfg.Locale,
		queue:     NewQueue(cfg.Write, cfg.MaxQueue),
	}
	if n.name == "" {
		n.name = cfg.Remote.String()
	}
	n.leaf.Store(cfg.Leaf)
	n.hopsFlow.Store(uint32(NoHopsFlow))
	n.logger = logger.With(zap.Stringer("node", n))

	return n
}

func (n *Node) ID() uint64 {
	return n.id
}

func (n *Node) String() string {
	if n.udp {
		return fmt.Sprintf("udp/%s", n.name)
	}
	return n.name
}

func (n *Node) IsUDP() bool {
	return n.udp
}

func (n *Node) IsLeaf() bool {
	return n.leaf.Load()
}

func (n *Node) UserAgent() string {
	return n.userAgent
}

func (n *Node) Locale() string {
	return n.locale
}

// ConnectedSince returns when the node was created
func (n *Node) ConnectedSince() time.Time {
	return n.created
}

// SetLeaf records the role negotiated with the peer
func (n *Node) SetLeaf(leaf bool) {
	n.leaf.Store(leaf)
}

// IsWritable checks the send path is still open
func (n *Node) IsWritable() bool {
	return !n.queue.Closed()
}

func (n *Node) RemoteAddr() netip.AddrPort {
	return n.remote
}

// SetAttr adds capabilities to the peer
func (n *Node) SetAttr(a vmsg.Attr) {
	for {
		old := n.attr.Load()
		if n.attr.CompareAndSwap(old, old|uint32(a)) {
			return
		}
	}
}

// Attr returns the capabilities learned so far
func (n *Node) Attr() vmsg.Attr {
	return vmsg.Attr(n.attr.Load())
}

// SetHopsFlow records the hop count under which the peer accepts queries
func (n *Node) SetHopsFlow(hops uint8) {
	old := uint8(n.hopsFlow.Swap(uint32(hops)))
	if old != hops {
		n.logger.Debug("hops flow changed", zap.Uint8("from", old), zap.Uint8("to", hops))
	}
}

// HopsFlow returns the current hops-flow value
func (n *Node) HopsFlow() uint8 {
	return uint8(n.hopsFlow.Load())
}

// CanForward checks whether a query with the given hop count may be sent
func (n *Node) CanForward(hops uint8) bool {
	return hops < n.HopsFlow()
}

// Enqueue hands a vendor message to the send queue
func (n *Node) Enqueue(p *vmsg.PendingSend) {
	if !n.queue.Push(p) {
		n.logger.Debug("send queue full, message dropped", zap.Int("size", p.Len()))
	}
}

// Send queues a non-vendor message on the normal lane
func (n *Node) Send(m *protocol.Message) {
	var t protocol.VendorHeader
	n.Enqueue(vmsg.Prepare(m.Encode(), t, vmsg.PriorityNormal))
}

// Queue returns the outbound queue of the node
func (n *Node) Queue() *Queue {
	return n.queue
}

// Close shuts the send path
func (n *Node) Close() {
	n.queue.Close()
}

// Info is a snapshot of a node for diagnostics
type Info struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	UDP       bool   `json:"udp"`
	Leaf      bool   `json:"leaf"`
	Remote    string `json:"remote"`
	UserAgent string `json:"user_agent,omitempty"`
	Attr      string `json:"attr"`
	HopsFlow  uint8  `json:"hops_flow"`
	Queued    int    `json:"queued"`
	Uptime    string `json:"uptime"`
}

// Info returns a snapshot of the node
func (n *Node) Info() Info {
	return Info{
		ID:        n.id,
		Name:      n.name,
		UDP:       n.udp,
		Leaf:      n.IsLeaf(),
		Remote:    n.remote.String(),
		UserAgent: n.userAgent,
		Attr:      n.Attr().String(),
		HopsFlow:  n.HopsFlow(),
		Queued:    n.queue.Len(),
		Uptime:    time.Since(n.created).Truncate(time.Second).String(),
	}
}
