package vmsg

import (
	"encoding/binary"

	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
)

const (
	supportedItemSize = 8 // vendor(4) + selector(2) + version(2)
	featureItemSize   = 6 // vendor(4) + version(2)

	// QueryStatusStop tells the querying ultrapeer to stop the search
	QueryStatusStop uint16 = 0xffff
	// QueryStatusMax is the largest real kept-results count
	QueryStatusMax uint16 = 0xfffe

	// CrawlerFeatureMask covers the defined crawler ping feature bits
	CrawlerFeatureMask uint8 = CrawlConnectTime | CrawlLocale | CrawlNewPeers | CrawlUserAgent

	ntpFlag         = 0x01
	unsolicitedFlag = 0x01
)

// UDP crawler ping feature bits
const (
	CrawlConnectTime uint8 = 0x01 // connection time, in minutes
	CrawlLocale      uint8 = 0x02 // 2-letter language code
	CrawlNewPeers    uint8 = 0x04 // only peers supporting the crawler ping
	CrawlUserAgent   uint8 = 0x08 // ';'-separated deflated user agents
)

// Feature is one entry of a Features Supported vector
type Feature struct {
	Vendor  protocol.VendorCode
	Version uint16
}

func encodeSupported(items []protocol.VendorHeader) []byte {
	buf := make([]byte, 2+len(items)*supportedItemSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(items)))

	offset := 2
	for _, it := range items {
		it.Put(buf[offset:])
		offset += supportedItemSize
	}

	return buf
}

func decodeSupported(d Descriptor, payload []byte) ([]protocol.VendorHeader, error) {
	if len(payload) < 2 {
		return nil, &PayloadSizeError{Desc: d, Expected: 2, Actual: len(payload)}
	}

	count := int(binary.LittleEndian.Uint16(payload[0:2]))
	if err := expectSize(d, payload, 2+count*supportedItemSize); err != nil {
		return nil, err
	}

	items := make([]protocol.VendorHeader, count)
	offset := 2
	for i := range items {
		// Cannot fail, size was checked above
		_ = items[i].Decode(payload[offset:])
		offset += supportedItemSize
	}

	return items, nil
}

func encodeFeatures(features []Feature) []byte {
	buf := make([]byte, 2+len(features)*featureItemSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(features)))

	offset := 2
	for _, f := range features {
		binary.BigEndian.PutUint32(buf[offset:], uint32(f.Vendor))
		binary.LittleEndian.PutUint16(buf[offset+4:], f.Version)
		offset += featureItemSize
	}

	return buf
}

func decodeFeatures(d Descriptor, payload []byte) ([]Feature, error) {
	if len(payload) < 2 {
		return nil, &PayloadSizeError{Desc: d, Expected: 2, Actual: len(payload)}
	}

	count := int(binary.LittleEndian.Uint16(payload[0:2]))
	if err := expectSize(d, payload, 2+count*featureItemSize); err != nil {
		return nil, err
	}

	features := make([]Feature, count)
	offset := 2
	for i := range features {
		features[i].Vendor = protocol.VendorCode(binary.BigEndian.Uint32(payload[offset:]))
		features[i].Version = binary.LittleEndian.Uint16(payload[offset+4:])
		offset += featureItemSize
	}

	return features, nil
}

// proxyAckSize returns the Push-Proxy Acknowledgment payload size:
// v1 carries the port only, v2 the IPv4 address and the port.
func proxyAckSize(version uint16) int {
	if version < 2 {
		return 2
	}
	return 6
}

func boolFlag(b bool, flag byte) byte {
	if b {
		return flag
	}
	return 0
}

// clampKept maps a local kept-results count to the wire value
func clampKept(kept uint32, known bool) uint16 {
	if !known {
		return QueryStatusStop
	}
	if kept > uint32(QueryStatusMax) {
		return QueryStatusMax
	}
	return uint16(kept)
}
