package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func pending(tag byte, size int, prio vmsg.Priority) *vmsg.PendingSend {
	frame := make([]byte, size)
	frame[0] = tag
	return vmsg.Prepare(frame, protocol.VendorHeader{}, prio)
}

func TestQueueControlFirst(t *testing.T) {
	sink := &frameSink{}
	q := NewQueue(sink.write, 0)

	require.True(t, q.Push(pending('a', 30, vmsg.PriorityNormal)))
	require.True(t, q.Push(pending('b', 30, vmsg.PriorityNormal)))
	require.True(t, q.Push(pending('C', 30, vmsg.PriorityControl)))
	assert.Equal(t, 90, q.Len())

	require.NoError(t, q.Flush())
	require.Len(t, sink.frames, 3)
	assert.Equal(t, byte('C'), sink.frames[0][0])
	assert.Equal(t, byte('a'), sink.frames[1][0])
	assert.Equal(t, byte('b'), sink.frames[2][0])
	assert.Zero(t, q.Len())
}

func TestQueueCommitsAtWrite(t *testing.T) {
	var written bool
	var stampedBeforeWrite bool

	q := NewQueue(func(frame []byte) error {
		written = true
		stampedBeforeWrite = frame[0] == 'S'
		return nil
	}, 0)

	p := pending('x', 30, vmsg.PriorityControl).WithStamp(func(frame []byte) {
		assert.False(t, written, "stamp must run before the write")
		frame[0] = 'S'
	})
	require.True(t, q.Push(p))
	assert.Equal(t, byte('x'), p.Frame()[0])

	require.NoError(t, q.Flush())
	assert.True(t, stampedBeforeWrite)
}

func TestQueueDropsNormalWhenFull(t *testing.T) {
	sink := &frameSink{}
	q := NewQueue(sink.write, 50)

	assert.True(t, q.Push(pending('a', 40, vmsg.PriorityNormal)))
	assert.False(t, q.Push(pending('b', 40, vmsg.PriorityNormal)))
	assert.True(t, q.Push(pending('C', 40, vmsg.PriorityControl)))

	require.NoError(t, q.Flush())
	assert.Equal(t, 2, sink.count())
}

func TestQueueClose(t *testing.T) {
	sink := &frameSink{}
	q := NewQueue(sink.write, 0)

	require.True(t, q.Push(pending('a', 30, vmsg.PriorityNormal)))
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Push(pending('b', 30, vmsg.PriorityNormal)))
	require.NoError(t, q.Flush())
	assert.Zero(t, sink.count())
}

func TestQueueRun(t *testing.T) {
	sink := &frameSink{}
	q := NewQueue(sink.write, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.True(t, q.Push(pending('a', 30, vmsg.PriorityNormal)))
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
