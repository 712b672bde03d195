package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeaderEncodeDecode(t *testing.T) {
	muid := NewMUID()

	tests := []struct {
		name   string
		header *Header
	}{
		{
			name: "vendor header",
			header: &Header{
				MUID:     muid,
				Function: FuncVendor,
				TTL:      1,
				Hops:     0,
				Size:     9,
			},
		},
		{
			name: "query with hops",
			header: &Header{
				MUID:     muid,
				Function: FuncQuery,
				TTL:      4,
				Hops:     3,
				Size:     1024,
			},
		},
		{
			name: "blank muid zero size",
			header: &Header{
				Function: FuncPing,
				TTL:      1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.header.Encode()

			if len(encoded) != HeaderSize {
				t.Errorf("Encode() length = %d, want %d", len(encoded), HeaderSize)
			}

			decoded := &Header{}
			if err := decoded.Decode(encoded); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if *decoded != *tt.header {
				t.Errorf("Decode() = %+v, want %+v", decoded, tt.header)
			}
		})
	}
}

func TestHeaderSizeIsLittleEndian(t *testing.T) {
	h := &Header{Function: FuncVendor, TTL: 1, Size: 0x0A0B0C0D}
	buf := h.Encode()

	want := []byte{0x0D, 0x0C, 0x0B, 0x0A}
	if !bytes.Equal(buf[19:23], want) {
		t.Errorf("size bytes = % x, want % x", buf[19:23], want)
	}
}

func TestHeaderDecodeTooShort(t *testing.T) {
	header := &Header{}
	err := header.Decode(make([]byte, HeaderSize-1))
	if err != ErrInvalidHeader {
		t.Errorf("Decode() error = %v, want %v", err, ErrInvalidHeader)
	}
}

func TestVendorHeaderByteOrder(t *testing.T) {
	v := &VendorHeader{Vendor: VendorGTKG, Selector: 0x0102, Version: 0x0304}
	buf := make([]byte, VendorHeaderSize)
	v.Put(buf)

	want := []byte{'G', 'T', 'K', 'G', 0x02, 0x01, 0x04, 0x03}
	if !bytes.Equal(buf, want) {
		t.Fatalf("Put() = % x, want % x", buf, want)
	}

	var decoded VendorHeader
	if err := decoded.Decode(buf); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded != *v {
		t.Errorf("Decode() = %+v, want %+v", decoded, *v)
	}
}

func TestVendorHeaderDecodeTooShort(t *testing.T) {
	var v VendorHeader
	if err := v.Decode(make([]byte, VendorHeaderSize-1)); err != ErrVendorTooSmall {
		t.Errorf("Decode() error = %v, want %v", err, ErrVendorTooSmall)
	}
}

func TestReadWriteMessage(t *testing.T) {
	original := NewMessage(FuncVendor, 1, []byte("payload"))

	var buf bytes.Buffer
	if err := WriteMessage(&buf, original); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	read, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	if *read.Header != *original.Header {
		t.Errorf("header = %+v, want %+v", read.Header, original.Header)
	}
	if !bytes.Equal(read.Payload, original.Payload) {
		t.Errorf("payload = %q, want %q", read.Payload, original.Payload)
	}
}

func TestReadHeaderRejectsHugePayload(t *testing.T) {
	h := &Header{Function: FuncVendor, Size: MaxPayloadSize + 1}
	if _, err := ReadHeader(bytes.NewReader(h.Encode())); err != ErrPayloadTooLarge {
		t.Errorf("ReadHeader() error = %v, want %v", err, ErrPayloadTooLarge)
	}
}

func TestDecodeMessageSizeMismatch(t *testing.T) {
	m := NewMessage(FuncVendor, 1, []byte{1, 2, 3})
	buf := append(m.Encode(), 0xFF)

	if _, err := DecodeMessage(buf); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("DecodeMessage() error = %v, want %v", err, ErrInvalidHeader)
	}

	decoded, err := DecodeMessage(m.Encode())
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	if !bytes.Equal(decoded.Payload, []byte{1, 2, 3}) {
		t.Errorf("payload = % x", decoded.Payload)
	}
}
