package protocol

import (
	"encoding/hex"
	"fmt"
)

// Protocol constants
const (
	// Generic header size
	HeaderSize = 23

	// Vendor sub-header size (vendor + selector + version)
	VendorHeaderSize = 8

	// Largest message the vendor layer builds, header included.
	// Large enough for a payload of 4K.
	MaxMessageSize = 4128

	// Largest vendor payload that fits in MaxMessageSize
	MaxVendorPayload = MaxMessageSize - HeaderSize - VendorHeaderSize

	// Largest payload accepted from the wire
	MaxPayloadSize = 64 * 1024
)

// Message functions
const (
	FuncPing      uint8 = 0x00
	FuncPong      uint8 = 0x01
	FuncBye       uint8 = 0x02
	FuncVendor    uint8 = 0x31
	FuncStdVendor uint8 = 0x32
	FuncPush      uint8 = 0x40
	FuncQuery     uint8 = 0x80
	FuncQueryHit  uint8 = 0x81
)

// Vendor codes
const (
	VendorNone VendorCode = 0x00000000
	VendorBEAR VendorCode = 0x42454152 // BearShare
	VendorGTKG VendorCode = 0x47544B47 // gtk-gnutella
	VendorLIME VendorCode = 0x4C494D45 // LimeWire
)

// GUID is a 16-byte Gnutella identifier (servent GUID or message MUID)
type GUID [16]byte

// VendorCode is a 4-character vendor tag packed big-endian into 32 bits
type VendorCode uint32

// BlankGUID is the all-zero GUID
var BlankGUID GUID

// IsBlank checks if the GUID is all zeros
func (g GUID) IsBlank() bool {
	return g == BlankGUID
}

// String returns the hex form of the GUID
func (g GUID) String() string {
	return hex.EncodeToString(g[:])
}

// ParseGUID parses a 32-character hex GUID
func ParseGUID(s string) (GUID, error) {
	var g GUID
	b, err := hex.DecodeString(s)
	if err != nil {
		return g, fmt.Errorf("invalid guid %q: %w", s, err)
	}
	if len(b) != len(g) {
		return g, fmt.Errorf("invalid guid %q: got %d bytes, want %d", s, len(b), len(g))
	}
	copy(g[:], b)
	return g, nil
}

func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *GUID) UnmarshalText(b []byte) error {
	parsed, err := ParseGUID(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// NewVendorCode packs a 4-character tag
func NewVendorCode(tag string) VendorCode {
	var b [4]byte
	copy(b[:], tag)
	return VendorCode(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}

// String renders the vendor code as its 4-character tag.
// The null vendor renders as "0000", and non-printable bytes as '.'.
func (v VendorCode) String() string {
	if v == VendorNone {
		return "0000"
	}

	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '.'
		}
	}
	return string(b)
}
