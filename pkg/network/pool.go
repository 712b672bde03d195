package network

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrPoolClosed = errors.New("node pool closed")
	ErrPoolFull   = errors.New("node pool full")
)

// Pool keeps track of the live nodes
type Pool struct {
	nodes map[uint64]*Node
	byKey map[string]*Node
	mu    sync.RWMutex

	maxNodes int
	closed   bool
}

// NewPool creates a pool holding at most maxNodes nodes
func NewPool(maxNodes int) *Pool {
	return &Pool{
		nodes:    make(map[uint64]*Node),
		byKey:    make(map[string]*Node),
		maxNodes: maxNodes,
	}
}

// Add registers a node under key, which must be unique among live nodes
// (the remote address for datagram peers, the stream id otherwise).
func (p *Pool) Add(key string, n *Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if p.maxNodes > 0 && len(p.nodes) >= p.maxNodes {
		return ErrPoolFull
	}

	p.nodes[n.ID()] = n
	p.byKey[key] = n
	return nil
}

// GetOrCreate returns the node registered under key, creating it first
// when missing. created reports whether create was called.
func (p *Pool) GetOrCreate(key string, create func() *Node) (n *Node, created bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, ErrPoolClosed
	}
	if n, ok := p.byKey[key]; ok {
		return n, false, nil
	}
	if p.maxNodes > 0 && len(p.nodes) >= p.maxNodes {
		return nil, false, ErrPoolFull
	}

	n = create()
	p.nodes[n.ID()] = n
	p.byKey[key] = n
	return n, true, nil
}

// Remove forgets the node registered under key and closes it
func (p *Pool) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n, ok := p.byKey[key]; ok {
		n.Close()
		delete(p.nodes, n.ID())
		delete(p.byKey, key)
	}
}

// Get returns a node by id
func (p *Pool) Get(id uint64) (*Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, ok := p.nodes[id]
	return n, ok
}

// Nodes returns the live nodes ordered by id
func (p *Pool) Nodes() []*Node {
	p.mu.RLock()
	nodes := make([]*Node, 0, len(p.nodes))
	for _, n := range p.nodes {
		nodes = append(nodes, n)
	}
	p.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	return nodes
}

// Stats returns pool statistics
func (p *Pool) Stats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var leaves, udp int
	for _, n := range p.nodes {
		if n.IsLeaf() {
			leaves++
		}
		if n.IsUDP() {
			udp++
		}
	}

	return map[string]interface{}{
		"nodes":     len(p.nodes),
		"leaves":    leaves,
		"udp_nodes": udp,
		"max_nodes": p.maxNodes,
	}
}

// Close closes every node and refuses new ones
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.closed = true

	for _, n := range p.nodes {
		n.Close()
	}
	p.nodes = make(map[uint64]*Node)
	p.byKey = make(map[string]*Node)

	return nil
}
