package network

import (
	"context"
	"errors"
	"sync"

	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
)

// DefaultMaxQueue is the default bound on bytes queued on the normal lane
const DefaultMaxQueue = 256 * 1024

var ErrQueueClosed = errors.New("send queue closed")

// Queue is the outbound queue of a node. It has two lanes: control
// messages are written before any queued normal traffic.
//
// Messages are committed (deferred stamps run) only when they are about
// to be written, outside of the queue lock.
type Queue struct {
	mu      sync.Mutex
	control []*vmsg.PendingSend
	normal  []*vmsg.PendingSend
	size    int
	maxSize int
	closed  bool

	ready chan struct{}
	write func([]byte) error
}

// NewQueue creates a queue writing frames through write
func NewQueue(write func([]byte) error, maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueue
	}
	return &Queue{
		maxSize: maxSize,
		ready:   make(chan struct{}, 1),
		write:   write,
	}
}

// Push queues p on the lane of its priority. Normal messages are dropped
// when the queue is over its size bound; control messages never are.
func (q *Queue) Push(p *vmsg.PendingSend) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if p.Priority == vmsg.PriorityControl {
		q.control = append(q.control, p)
	} else {
		if q.size+p.Len() > q.maxSize {
			return false
		}
		q.normal = append(q.normal, p)
	}
	q.size += p.Len()

	select {
	case q.ready <- struct{}{}:
	default:
	}

	return true
}

// pop removes the next message to write
func (q *Queue) pop() *vmsg.PendingSend {
	q.mu.Lock()
	defer q.mu.Unlock()

	var p *vmsg.PendingSend
	switch {
	case len(q.control) > 0:
		p = q.control[0]
		q.control[0] = nil
		q.control = q.control[1:]
	case len(q.normal) > 0:
		p = q.normal[0]
		q.normal[0] = nil
		q.normal = q.normal[1:]
	default:
		return nil
	}
	q.size -= p.Len()

	return p
}

// Flush writes every queued message, control lane first
func (q *Queue) Flush() error {
	for {
		p := q.pop()
		if p == nil {
			return nil
		}

		if err := q.write(p.Commit()); err != nil {
			return err
		}
	}
}

// Run flushes the queue whenever messages arrive, until ctx is done, the
// queue is closed or a write fails.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.ready:
		}

		if err := q.Flush(); err != nil {
			q.Close()
			return err
		}

		if q.Closed() {
			return ErrQueueClosed
		}
	}
}

// Len returns the number of queued bytes
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Close discards queued messages and refuses new ones
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.control, q.normal = nil, nil
	q.size = 0

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Closed checks if the queue was closed
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
