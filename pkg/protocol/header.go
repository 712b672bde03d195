package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	ErrInvalidHeader   = errors.New("invalid header")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrVendorTooSmall  = errors.New("vendor payload too small")
)

// Header represents the generic Gnutella message header
type Header struct {
	MUID     GUID  // Message identifier
	Function uint8 // Message type
	TTL      uint8 // Time to live
	Hops     uint8 // Hops traveled
	Size     uint32
}

// Encode encodes the header to bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.Put(buf)
	return buf
}

// Put writes the header into the first HeaderSize bytes of buf
func (h *Header) Put(buf []byte) {
	copy(buf[0:16], h.MUID[:])
	buf[16] = h.Function
	buf[17] = h.TTL
	buf[18] = h.Hops
	binary.LittleEndian.PutUint32(buf[19:23], h.Size)
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}

	copy(h.MUID[:], buf[0:16])
	h.Function = buf[16]
	h.TTL = buf[17]
	h.Hops = buf[18]
	h.Size = binary.LittleEndian.Uint32(buf[19:23])

	return nil
}

// IsVendor checks if the header announces a vendor-specific message
func (h *Header) IsVendor() bool {
	return h.Function == FuncVendor || h.Function == FuncStdVendor
}

// ReadHeader reads a header from an io.Reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)

	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	header := &Header{}
	if err := header.Decode(buf); err != nil {
		return nil, err
	}

	if header.Size > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	return header, nil
}

// WriteHeader writes a header to an io.Writer
func WriteHeader(w io.Writer, h *Header) error {
	buf := h.Encode()
	_, err := w.Write(buf)
	return err
}

// VendorHeader is the sub-header leading every vendor message payload
type VendorHeader struct {
	Vendor   VendorCode
	Selector uint16
	Version  uint16
}

// Put writes the sub-header into the first VendorHeaderSize bytes of buf.
// The vendor code is big-endian, selector and version are little-endian.
func (v *VendorHeader) Put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(v.Vendor))
	binary.LittleEndian.PutUint16(buf[4:6], v.Selector)
	binary.LittleEndian.PutUint16(buf[6:8], v.Version)
}

// Decode decodes the sub-header from the start of a vendor payload
func (v *VendorHeader) Decode(buf []byte) error {
	if len(buf) < VendorHeaderSize {
		return ErrVendorTooSmall
	}

	v.Vendor = VendorCode(binary.BigEndian.Uint32(buf[0:4]))
	v.Selector = binary.LittleEndian.Uint16(buf[4:6])
	v.Version = binary.LittleEndian.Uint16(buf[6:8])

	return nil
}
