// Package protocol implements the Gnutella wire primitives used by the
// vendor-message layer.
//
// The protocol package defines the generic message header, the vendor
// sub-header that follows it, the vendor codes, and the timestamp codec
// used by the clock synchronization messages.
//
// # Header Format
//
// Every Gnutella message starts with a 23-byte header:
//   - MUID (16 bytes): message identifier, used for request/reply correlation
//   - Function (1 byte): message type (0x31 for vendor messages)
//   - TTL (1 byte): time-to-live, always 1 for vendor messages
//   - Hops (1 byte): hop count, always 0 when sent
//   - Size (4 bytes, little-endian): payload length
//
// # Vendor Sub-Header
//
// Vendor messages carry an 8-byte sub-header at the start of their payload:
//   - Vendor (4 bytes, big-endian): vendor code, e.g. "GTKG"
//   - Selector (2 bytes, little-endian): message id within the vendor
//   - Version (2 bytes, little-endian): message version
//
// # Byte Order
//
// Payload integers are little-endian, with two exceptions inherited from
// the base protocol: vendor codes and IPv4 addresses are big-endian, and so
// are the (seconds, microseconds) timestamp pairs exchanged by the time
// synchronization messages.
//
// # Correlation Identifiers
//
// The MUID is normally opaque. The time synchronization request and reply
// reuse it to carry two timestamp pairs; see ClockSyncID.
package protocol
