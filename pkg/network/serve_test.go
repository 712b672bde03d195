package network

import (
	"bytes"
	"context"
	"testing"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLoop(t *testing.T) {
	var stream bytes.Buffer
	src := newTestNode(&frameSink{}, false)
	enc := vmsg.NewEncoder(protocol.GUID{1})

	require.NoError(t, protocol.WriteMessage(&stream, protocol.NewMessage(protocol.FuncPing, 1, nil)))
	stream.Write(enc.SendHopsFlow(src, 4).Commit())
	stream.Write(enc.SendTCPConnectBack(src, 6346).Commit())

	var seen []uint16
	n := newTestNode(&frameSink{}, false)
	h := HandlerFunc(func(c vmsg.Conn, hdr *protocol.Header, payload []byte) error {
		assert.Same(t, n, c)
		var vh protocol.VendorHeader
		require.NoError(t, vh.Decode(payload))
		seen = append(seen, vh.Selector)
		return nil
	})

	require.NoError(t, ReadLoop(context.Background(), n, &stream, h))
	assert.Equal(t, []uint16{4, 7}, seen)
}

func TestHandleDatagram(t *testing.T) {
	n := newTestNode(&frameSink{}, true)
	enc := vmsg.NewEncoder(protocol.GUID{1})
	frame := enc.BuildOOBReplyIndication(protocol.GUID{2}, 1, 2).Commit()

	var calls int
	h := HandlerFunc(func(vmsg.Conn, *protocol.Header, []byte) error {
		calls++
		return nil
	})

	require.NoError(t, HandleDatagram(n, frame, h))
	assert.Equal(t, 1, calls)

	// Trailing garbage
	assert.Error(t, HandleDatagram(n, append(frame, 0), h))
	assert.Equal(t, 1, calls)
}
