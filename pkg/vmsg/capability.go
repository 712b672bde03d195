package vmsg

import "github.com/ZentaChain/gnutella-vmsg/pkg/protocol"

// InferCapabilities derives peer capabilities from the message triples it
// advertises. Triples missing from reg are returned as unknown.
//
// Either half of the query status exchange implies the other, since a
// compliant peer must implement both.
func InferCapabilities(reg *Registry, items []protocol.VendorHeader) (attr Attr, unknown []protocol.VendorHeader) {
	for _, t := range items {
		d, ok := reg.LookupType(t)
		if !ok {
			unknown = append(unknown, t)
			continue
		}

		switch d.Kind {
		case KindQueryStatusRequest, KindQueryStatusReply:
			attr |= AttrLeafGuide
		case KindTimeSyncRequest, KindTimeSyncReply:
			attr |= AttrTimeSync
		case KindUDPCrawlerPing:
			attr |= AttrCrawlable
		}
	}

	return attr, unknown
}
