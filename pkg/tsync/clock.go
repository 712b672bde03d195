package tsync

import (
	"sync"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
)

// Clock is the reference clock shared with peers: the local clock
// corrected by the offset learned through time synchronization.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
	local  func() time.Time
}

// NewClock creates a reference clock over local, or time.Now when nil
func NewClock(local func() time.Time) *Clock {
	if local == nil {
		local = time.Now
	}
	return &Clock{local: local}
}

// Now returns the current reference time
func (c *Clock) Now() protocol.Timestamp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return protocol.TimestampFromTime(c.local().Add(c.offset))
}

// Offset returns the correction applied to the local clock
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Adjust shifts the reference clock by delta
func (c *Clock) Adjust(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += delta
}
