package vmsg

import (
	"errors"
	"fmt"
)

var (
	ErrEnvelopeTooSmall = errors.New("vendor message too small")
	ErrUnknownMessage   = errors.New("unknown vendor message")
	ErrBadPayloadSize   = errors.New("bad payload size")
	ErrWrongTransport   = errors.New("message arrived over the wrong transport")
	ErrInvalidAddress   = errors.New("improper address")
	ErrInvalidPort      = errors.New("improper port")
	ErrNoResults        = errors.New("no results advertised")
	ErrUnsortedRegistry = errors.New("vendor message table not sorted")
	ErrLeafTarget       = errors.New("target node is a leaf")
)

// PayloadSizeError reports a vendor payload whose size differs from the
// exact size expected for its message version.
type PayloadSizeError struct {
	Desc     Descriptor
	Expected int
	Actual   int
}

func (e *PayloadSizeError) Error() string {
	return fmt.Sprintf("bad payload size %d for %s, expected %d", e.Actual, e.Desc, e.Expected)
}

// Is makes errors.Is(err, ErrBadPayloadSize) match
func (e *PayloadSizeError) Is(target error) bool {
	return target == ErrBadPayloadSize
}

// DropReason classifies why an inbound vendor message was dropped
type DropReason uint8

const (
	DropTooSmall DropReason = iota
	DropUnknownType
	DropBadSize
	DropWrongTransport
	DropInvalidAddress
	DropInvalidPort
	DropNoResults
)

// AllDropReasons lists every reason, for counters that pre-register labels
var AllDropReasons = []DropReason{
	DropTooSmall,
	DropUnknownType,
	DropBadSize,
	DropWrongTransport,
	DropInvalidAddress,
	DropInvalidPort,
	DropNoResults,
}

func (r DropReason) String() string {
	switch r {
	case DropTooSmall:
		return "too_small"
	case DropUnknownType:
		return "unknown_type"
	case DropBadSize:
		return "bad_size"
	case DropWrongTransport:
		return "wrong_transport"
	case DropInvalidAddress:
		return "invalid_address"
	case DropInvalidPort:
		return "invalid_port"
	case DropNoResults:
		return "no_results"
	default:
		return fmt.Sprintf("DropReason(%d)", uint8(r))
	}
}

// dropReasonOf maps a handler error to its drop reason
func dropReasonOf(err error) DropReason {
	switch {
	case errors.Is(err, ErrEnvelopeTooSmall):
		return DropTooSmall
	case errors.Is(err, ErrBadPayloadSize):
		return DropBadSize
	case errors.Is(err, ErrWrongTransport):
		return DropWrongTransport
	case errors.Is(err, ErrInvalidAddress):
		return DropInvalidAddress
	case errors.Is(err, ErrInvalidPort):
		return DropInvalidPort
	case errors.Is(err, ErrNoResults):
		return DropNoResults
	default:
		return DropUnknownType
	}
}

func expectSize(d Descriptor, payload []byte, expected int) error {
	if len(payload) != expected {
		return &PayloadSizeError{Desc: d, Expected: expected, Actual: len(payload)}
	}
	return nil
}
