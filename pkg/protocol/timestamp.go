package protocol

import (
	"encoding/binary"
	"time"
)

// TimestampSize is the wire size of a (seconds, microseconds) pair
const TimestampSize = 8

// Timestamp is a (seconds, microseconds) pair as exchanged by the time
// synchronization messages. Both halves are big-endian on the wire.
type Timestamp struct {
	Sec  uint32
	Usec uint32
}

// TimestampFromTime converts a time.Time to a Timestamp
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{
		Sec:  uint32(t.Unix()),
		Usec: uint32(t.Nanosecond() / 1000),
	}
}

// Time converts the timestamp back to a time.Time
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t.Sec), int64(t.Usec)*1000)
}

// Micros returns the timestamp as microseconds since the epoch
func (t Timestamp) Micros() int64 {
	return int64(t.Sec)*1_000_000 + int64(t.Usec)
}

// Sub returns t-u
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t.Micros()-u.Micros()) * time.Microsecond
}

// Add returns t+d, normalized so that Usec stays below one second
func (t Timestamp) Add(d time.Duration) Timestamp {
	us := t.Micros() + d.Microseconds()
	return Timestamp{
		Sec:  uint32(us / 1_000_000),
		Usec: uint32(us % 1_000_000),
	}
}

// PutTimestamp writes t big-endian into the first 8 bytes of buf
func PutTimestamp(buf []byte, t Timestamp) {
	binary.BigEndian.PutUint32(buf[0:4], t.Sec)
	binary.BigEndian.PutUint32(buf[4:8], t.Usec)
}

// ReadTimestamp reads a big-endian timestamp from the first 8 bytes of buf
func ReadTimestamp(buf []byte) Timestamp {
	return Timestamp{
		Sec:  binary.BigEndian.Uint32(buf[0:4]),
		Usec: binary.BigEndian.Uint32(buf[4:8]),
	}
}

// ClockSyncID is the MUID of a time synchronization request or reply
// seen as two timestamp pairs. It carries no random part.
//
// Sent is T1, stamped by the requester when the request leaves it.
// Replied is T3, stamped by the replier when the reply leaves it.
type ClockSyncID struct {
	Sent    Timestamp
	Replied Timestamp
}

// ClockSyncFromGUID reinterprets a MUID as a clock-sync identifier
func ClockSyncFromGUID(g GUID) ClockSyncID {
	return ClockSyncID{
		Sent:    ReadTimestamp(g[0:8]),
		Replied: ReadTimestamp(g[8:16]),
	}
}

// GUID packs the identifier back into a MUID
func (c ClockSyncID) GUID() GUID {
	var g GUID
	PutTimestamp(g[0:8], c.Sent)
	PutTimestamp(g[8:16], c.Replied)
	return g
}
