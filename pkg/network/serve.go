package network

import (
	"context"
	"errors"
	"io"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"go.uber.org/zap"
)

// Handler processes vendor messages, typically a *vmsg.Dispatcher
type Handler interface {
	Handle(c vmsg.Conn, h *protocol.Header, payload []byte) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(c vmsg.Conn, h *protocol.Header, payload []byte) error

func (f HandlerFunc) Handle(c vmsg.Conn, h *protocol.Header, payload []byte) error {
	return f(c, h, payload)
}

// ReadLoop reads messages from a stream peer until EOF, a framing error or
// ctx is done. Vendor messages go to h; anything else is only logged.
func ReadLoop(ctx context.Context, n *Node, r io.Reader, h Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m, err := protocol.ReadMessage(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		dispatch(n, m, h)
	}
}

// HandleDatagram processes one datagram received from a UDP peer. A
// datagram must hold exactly one message.
func HandleDatagram(n *Node, buf []byte, h Handler) error {
	m, err := protocol.DecodeMessage(buf)
	if err != nil {
		return err
	}

	dispatch(n, m, h)
	return nil
}

func dispatch(n *Node, m *protocol.Message, h Handler) {
	if !m.Header.IsVendor() {
		n.logger.Debug("ignoring message",
			zap.Uint8("function", m.Header.Function),
			zap.Uint32("size", m.Header.Size),
		)
		return
	}

	// Drops are counted and logged by the handler
	_ = h.Handle(n, m.Header, m.Payload)
}
