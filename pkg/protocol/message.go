package protocol

import (
	"fmt"
	"io"
)

// Message represents a complete Gnutella message
type Message struct {
	Header  *Header
	Payload []byte
}

// NewMessage creates a new message with a random MUID
func NewMessage(function uint8, ttl uint8, payload []byte) *Message {
	return &Message{
		Header: &Header{
			MUID:     NewMUID(),
			Function: function,
			TTL:      ttl,
			Hops:     0,
			Size:     uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Encode encodes header and payload into one buffer
func (m *Message) Encode() []byte {
	buf := make([]byte, HeaderSize+len(m.Payload))
	m.Header.Put(buf)
	copy(buf[HeaderSize:], m.Payload)
	return buf
}

// DecodeMessage parses a message held entirely in buf, as received in a
// single datagram. Trailing bytes beyond the advertised size are an error.
func DecodeMessage(buf []byte) (*Message, error) {
	header := &Header{}
	if err := header.Decode(buf); err != nil {
		return nil, err
	}

	if int(header.Size) != len(buf)-HeaderSize {
		return nil, fmt.Errorf("%w: header says %d payload bytes, got %d",
			ErrInvalidHeader, header.Size, len(buf)-HeaderSize)
	}

	return &Message{
		Header:  header,
		Payload: buf[HeaderSize:],
	}, nil
}

// ReadMessage reads one message from a stream
func ReadMessage(r io.Reader) (*Message, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, header.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &Message{Header: header, Payload: payload}, nil
}

// WriteMessage writes one message to a stream
func WriteMessage(w io.Writer, m *Message) error {
	_, err := w.Write(m.Encode())
	return err
}
