// Package stats counts vendor messages handled and dropped by the
// dispatcher, and exports the counters to Prometheus.
package stats

import (
	"sync"

	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vmsg"

// Collector implements vmsg.Stats
type Collector struct {
	dropped *prometheus.CounterVec
	handled *prometheus.CounterVec

	mu           sync.Mutex
	droppedCount map[vmsg.DropReason]uint64
	handledCount map[string]uint64
}

// Snapshot is a copy of the counters
type Snapshot struct {
	Dropped map[string]uint64 `json:"dropped"`
	Handled map[string]uint64 `json:"handled"`
}

// NewCollector creates the counters and registers them with reg. The
// dropped counter has every reason pre-registered, so that series exist
// before the first drop.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Inbound vendor messages dropped, by reason and transport.",
		}, []string{"reason", "transport"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handled_total",
			Help:      "Inbound vendor messages handled, by message.",
		}, []string{"message"}),
		droppedCount: make(map[vmsg.DropReason]uint64),
		handledCount: make(map[string]uint64),
	}

	for _, r := range vmsg.AllDropReasons {
		for _, transport := range []string{"tcp", "udp"} {
			c.dropped.WithLabelValues(r.String(), transport)
		}
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{c.dropped, c.handled} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

// Dropped counts a message dropped from c
func (c *Collector) Dropped(conn vmsg.Conn, reason vmsg.DropReason) {
	transport := "tcp"
	if conn.IsUDP() {
		transport = "udp"
	}
	c.dropped.WithLabelValues(reason.String(), transport).Inc()

	c.mu.Lock()
	c.droppedCount[reason]++
	c.mu.Unlock()
}

// Handled counts a message processed
func (c *Collector) Handled(d vmsg.Descriptor) {
	c.handled.WithLabelValues(d.Name).Inc()

	c.mu.Lock()
	c.handledCount[d.Name]++
	c.mu.Unlock()
}

// DroppedCount returns the drops for a reason
func (c *Collector) DroppedCount(reason vmsg.DropReason) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedCount[reason]
}

// Snapshot returns the current counts. Every drop reason is listed.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Dropped: make(map[string]uint64, len(vmsg.AllDropReasons)),
		Handled: make(map[string]uint64, len(c.handledCount)),
	}
	for _, r := range vmsg.AllDropReasons {
		s.Dropped[r.String()] = c.droppedCount[r]
	}
	for name, n := range c.handledCount {
		s.Handled[name] = n
	}
	return s
}

var _ vmsg.Stats = (*Collector)(nil)
