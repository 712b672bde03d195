package transport

import (
	"sync"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
)

type received struct {
	conn    vmsg.Conn
	header  protocol.Header
	payload []byte
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []received
}

func (h *recordingHandler) Handle(c vmsg.Conn, hdr *protocol.Header, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, received{conn: c, header: *hdr, payload: append([]byte(nil), payload...)})
	return nil
}

func (h *recordingHandler) received() []received {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]received(nil), h.msgs...)
}
