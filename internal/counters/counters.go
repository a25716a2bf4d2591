// Package counters implements the receive-side statistics kept per data
// stream or, on a multiplexed UDP server, per remote peer address: loss and
// out-of-order accounting and the RFC 3550 jitter estimator.
package counters

import (
	"sync"
	"time"

	"github.com/cambridgegreys/goiperf/internal/wire"
)

// Counters holds the receive-side state for one stream or peer. All fields
// are mutated only by ProcessHeader and AddBytes; callers that need a consistent
// snapshot should take Snapshot.
type Counters struct {
	mu sync.Mutex

	packetCount       int64
	jitter            float64
	prevTransit       float64
	firstPacket       bool
	outOfOrderPackets int64
	cntError          int64
	bytesReceived     int64
}

// New returns a Counters ready to process its first packet.
func New() *Counters {
	return &Counters{firstPacket: true}
}

// Snapshot is an immutable point-in-time copy of a Counters' fields, used
// by the result collator so it does not hold the mutex across JSON
// marshaling.
type Snapshot struct {
	PacketCount       int64
	Jitter            float64
	OutOfOrderPackets int64
	CntError          int64
	BytesReceived     int64
}

// Snapshot returns a copy of the current counter values.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		PacketCount:       c.packetCount,
		Jitter:            c.jitter,
		OutOfOrderPackets: c.outOfOrderPackets,
		CntError:          c.cntError,
		BytesReceived:     c.bytesReceived,
	}
}

// AddBytes accounts for a TCP payload chunk, which carries no packet
// header and therefore no loss/jitter accounting — only a byte count.
func (c *Counters) AddBytes(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesReceived += int64(n)
}

// ProcessHeader implements the per-packet accounting of spec §4.3: loss and
// out-of-order bookkeeping, plus the α = 1/16 RFC 3550 jitter estimator.
// now is the receiver's clock reading for this packet, injected by the
// caller rather than read internally so the formula is independently
// testable against a fixed sequence of transit times. Transit is computed
// from now's wall-clock value (UnixNano); the monotonic clock reading is
// not used.
func (c *Counters) ProcessHeader(hdr wire.Header, length int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bytesReceived += int64(length)

	seq := hdr.PacketCount
	if seq > c.packetCount {
		if seq > c.packetCount+1 {
			c.cntError += (seq - 1) - c.packetCount
		}
		c.packetCount = seq
	} else {
		c.outOfOrderPackets++
		if c.cntError > 0 {
			c.cntError--
		}
	}

	transit := float64(now.UnixNano())/1e9 - float64(hdr.Sec) - float64(hdr.Usec)/1e6

	if c.firstPacket {
		c.prevTransit = transit
		c.firstPacket = false
		return
	}

	diff := transit - c.prevTransit
	if diff < 0 {
		diff = -diff
	}
	c.jitter += (diff - c.jitter) / 16.0
	c.prevTransit = transit
}
