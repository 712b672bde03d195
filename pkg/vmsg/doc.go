// Package vmsg implements Gnutella vendor-specific messages.
//
// Vendor messages ride inside the generic message envelope (function 0x31)
// and are identified by a (vendor, selector, version) triple held in an
// 8-byte sub-header. They let peers negotiate optional capabilities without
// touching the base protocol: push-proxying for firewalled hosts, out-of-band
// delivery of query hits, clock synchronization, leaf-guided dynamic queries
// and UDP crawling.
//
// # Receiving
//
// A Dispatcher looks the triple up in a sorted, immutable Registry and runs
// the decoder for that message kind. Every decoder checks the exact payload
// size for its version; no vendor message tolerates missing or trailing
// bytes. Failures are counted through the Stats collaborator, logged, and
// never close the connection.
//
// # Sending
//
// An Encoder builds each message into its own buffer (generic header, vendor
// sub-header, payload) and hands it to the connection as a PendingSend. The
// send path calls Commit right before the bytes hit the wire; the time
// synchronization messages use that hook to stamp their MUID with the real
// transmission time.
//
// # Clock Synchronization
//
// Time Sync Request and Reply carry their state in the MUID rather than the
// payload: the first 8 bytes hold T1 (request send time), the last 8 bytes
// hold T3 (reply send time), both as big-endian (seconds, microseconds)
// pairs. The reply payload adds T2, the time the request was received. The
// receiver of the reply stamps T4 and hands all four to the ClockSync
// collaborator.
package vmsg
