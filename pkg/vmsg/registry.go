package vmsg

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
)

// Kind enumerates the vendor messages this node understands
type Kind uint8

const (
	KindMessagesSupported Kind = iota + 1
	KindFeaturesSupported
	KindHopsFlow
	KindTCPConnectBack
	KindUDPConnectBack
	KindQueryStatusRequest
	KindQueryStatusReply
	KindTimeSyncRequest
	KindTimeSyncReply
	KindProxyRequest
	KindProxyAck
	KindProxyCancel
	KindOOBReplyIndication
	KindOOBReplyAck
	KindUDPCrawlerPing
	KindUDPCrawlerPong
)

var kindNames = map[Kind]string{
	KindMessagesSupported:  "Messages Supported",
	KindFeaturesSupported:  "Features Supported",
	KindHopsFlow:           "Hops Flow",
	KindTCPConnectBack:     "TCP Connect Back",
	KindUDPConnectBack:     "UDP Connect Back",
	KindQueryStatusRequest: "Query Status Request",
	KindQueryStatusReply:   "Query Status Response",
	KindTimeSyncRequest:    "Time Sync Request",
	KindTimeSyncReply:      "Time Sync Reply",
	KindProxyRequest:       "Push-Proxy Request",
	KindProxyAck:           "Push-Proxy Acknowledgment",
	KindProxyCancel:        "Push-Proxy Cancel",
	KindOOBReplyIndication: "OOB Reply Indication",
	KindOOBReplyAck:        "OOB Reply Ack",
	KindUDPCrawlerPing:     "UDP Crawler Ping",
	KindUDPCrawlerPong:     "UDP Crawler Pong",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Descriptor describes one registered (vendor, selector, version) triple
type Descriptor struct {
	Vendor   protocol.VendorCode
	Selector uint16
	Version  uint16
	Kind     Kind
	Name     string
}

// Type returns the vendor sub-header identifying this message
func (d Descriptor) Type() protocol.VendorHeader {
	return protocol.VendorHeader{Vendor: d.Vendor, Selector: d.Selector, Version: d.Version}
}

// String renders the descriptor as "VENDOR/IDvVERSION 'Name'"
func (d Descriptor) String() string {
	return fmt.Sprintf("%s/%dv%d '%s'", d.Vendor, d.Selector, d.Version, d.Name)
}

func desc(vendor protocol.VendorCode, selector, version uint16, kind Kind) Descriptor {
	return Descriptor{
		Vendor:   vendor,
		Selector: selector,
		Version:  version,
		Kind:     kind,
		Name:     kind.String(),
	}
}

// Known vendor messages. This list MUST be sorted by vendor, selector, version.
var knownMessages = []Descriptor{
	desc(protocol.VendorNone, 0x0000, 0x0000, KindMessagesSupported),
	desc(protocol.VendorNone, 0x000a, 0x0000, KindFeaturesSupported),
	desc(protocol.VendorBEAR, 0x0004, 0x0001, KindHopsFlow),
	desc(protocol.VendorBEAR, 0x0007, 0x0001, KindTCPConnectBack),
	desc(protocol.VendorBEAR, 0x000b, 0x0001, KindQueryStatusRequest),
	desc(protocol.VendorBEAR, 0x000c, 0x0001, KindQueryStatusReply),
	desc(protocol.VendorGTKG, 0x0007, 0x0001, KindUDPConnectBack),
	desc(protocol.VendorGTKG, 0x0007, 0x0002, KindUDPConnectBack),
	desc(protocol.VendorGTKG, 0x0009, 0x0001, KindTimeSyncRequest),
	desc(protocol.VendorGTKG, 0x000a, 0x0001, KindTimeSyncReply),
	desc(protocol.VendorGTKG, 0x0015, 0x0001, KindProxyCancel),
	desc(protocol.VendorLIME, 0x0005, 0x0001, KindUDPCrawlerPing),
	desc(protocol.VendorLIME, 0x000b, 0x0002, KindOOBReplyAck),
	desc(protocol.VendorLIME, 0x000c, 0x0001, KindOOBReplyIndication),
	desc(protocol.VendorLIME, 0x000c, 0x0002, KindOOBReplyIndication),
	desc(protocol.VendorLIME, 0x0015, 0x0001, KindProxyRequest),
	desc(protocol.VendorLIME, 0x0015, 0x0002, KindProxyRequest),
	desc(protocol.VendorLIME, 0x0016, 0x0001, KindProxyAck),
	desc(protocol.VendorLIME, 0x0016, 0x0002, KindProxyAck),
}

// Send-only message types, not part of the receive table.
var typeUDPCrawlerPong = protocol.VendorHeader{Vendor: protocol.VendorLIME, Selector: 0x0006, Version: 0x0001}

// Registry is an immutable table of vendor messages sorted by
// (vendor, selector, version). It is safe for concurrent reads.
type Registry struct {
	entries []Descriptor
}

var defaultRegistry = MustRegistry(knownMessages)

// DefaultRegistry returns the table of vendor messages this node handles
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NewRegistry builds a registry, checking that entries are strictly
// increasing in (vendor, selector, version) order.
func NewRegistry(entries []Descriptor) (*Registry, error) {
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if compareTriple(prev, cur.Vendor, cur.Selector, cur.Version) >= 0 {
			return nil, fmt.Errorf("%w: %s must sort before %s", ErrUnsortedRegistry, prev, cur)
		}
	}

	return &Registry{entries: slices.Clone(entries)}, nil
}

// MustRegistry is like NewRegistry but panics on an unsorted table
func MustRegistry(entries []Descriptor) *Registry {
	r, err := NewRegistry(entries)
	if err != nil {
		panic(err)
	}
	return r
}

// compareTriple orders by vendor first, then (selector, version) as a pair
func compareTriple(d Descriptor, vendor protocol.VendorCode, selector, version uint16) int {
	if c := cmp.Compare(d.Vendor, vendor); c != 0 {
		return c
	}
	if c := cmp.Compare(d.Selector, selector); c != 0 {
		return c
	}
	return cmp.Compare(d.Version, version)
}

// Lookup finds the descriptor for a triple by binary search
func (r *Registry) Lookup(vendor protocol.VendorCode, selector, version uint16) (Descriptor, bool) {
	type key struct {
		vendor            protocol.VendorCode
		selector, version uint16
	}

	i, found := slices.BinarySearchFunc(r.entries, key{vendor, selector, version},
		func(d Descriptor, k key) int {
			return compareTriple(d, k.vendor, k.selector, k.version)
		})
	if !found {
		return Descriptor{}, false
	}
	return r.entries[i], true
}

// LookupType finds the descriptor for a decoded sub-header
func (r *Registry) LookupType(t protocol.VendorHeader) (Descriptor, bool) {
	return r.Lookup(t.Vendor, t.Selector, t.Version)
}

// Entries returns a copy of the table in storage order
func (r *Registry) Entries() []Descriptor {
	return slices.Clone(r.entries)
}

// Len returns the number of registered messages
func (r *Registry) Len() int {
	return len(r.entries)
}

// Format renders a triple as "VENDOR/IDvVERSION 'Name'", without the quoted
// name when the triple is not registered.
func (r *Registry) Format(t protocol.VendorHeader) string {
	if d, ok := r.LookupType(t); ok {
		return d.String()
	}
	return fmt.Sprintf("%s/%dv%d", t.Vendor, t.Selector, t.Version)
}

// InfoString decodes the leading sub-header of a vendor payload for logging.
// Payloads too short to hold the sub-header render as "????".
func (r *Registry) InfoString(payload []byte) string {
	var t protocol.VendorHeader
	if err := t.Decode(payload); err != nil {
		return "????"
	}
	return r.Format(t)
}
