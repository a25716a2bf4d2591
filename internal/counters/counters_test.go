package counters

import (
	"math"
	"testing"
	"time"

	"github.com/cambridgegreys/goiperf/internal/wire"
)

func headerAt(seq int64) wire.Header {
	return wire.Header{Sec: 0, Usec: 0, PacketCount: seq}
}

func TestLossAccountingJumpThenReorder(t *testing.T) {
	// Sequence 1,2,3,7,4: jump 3->7 adds 3 to cnt_error; the later
	// reordered 4 decrements by one. Final cnt_error == 2.
	c := New()
	now := time.Unix(0, 0)
	for _, seq := range []int64{1, 2, 3, 7, 4} {
		c.ProcessHeader(headerAt(seq), 100, now)
	}

	snap := c.Snapshot()
	if snap.PacketCount != 7 {
		t.Errorf("packet_count = %d, want 7", snap.PacketCount)
	}
	if snap.CntError != 2 {
		t.Errorf("cnt_error = %d, want 2", snap.CntError)
	}
	if snap.OutOfOrderPackets != 1 {
		t.Errorf("outoforder_packets = %d, want 1", snap.OutOfOrderPackets)
	}
}

func TestLossAccountingScenarioS3(t *testing.T) {
	// S3: sequences 1,2,3,6,7 -> packet_count=7, cnt_error=2, outoforder=0.
	c := New()
	now := time.Unix(0, 0)
	for _, seq := range []int64{1, 2, 3, 6, 7} {
		c.ProcessHeader(headerAt(seq), 64, now)
	}

	snap := c.Snapshot()
	if snap.PacketCount != 7 {
		t.Errorf("packet_count = %d, want 7", snap.PacketCount)
	}
	if snap.CntError != 2 {
		t.Errorf("cnt_error = %d, want 2", snap.CntError)
	}
	if snap.OutOfOrderPackets != 0 {
		t.Errorf("outoforder_packets = %d, want 0", snap.OutOfOrderPackets)
	}
}

func TestCntErrorNeverNegative(t *testing.T) {
	c := New()
	now := time.Unix(0, 0)
	// Two duplicate arrivals with no prior loss: cnt_error must floor at
	// zero, never go negative.
	c.ProcessHeader(headerAt(1), 10, now)
	c.ProcessHeader(headerAt(1), 10, now)
	c.ProcessHeader(headerAt(1), 10, now)

	snap := c.Snapshot()
	if snap.CntError != 0 {
		t.Errorf("cnt_error = %d, want 0 (floored)", snap.CntError)
	}
	if snap.OutOfOrderPackets != 2 {
		t.Errorf("outoforder_packets = %d, want 2", snap.OutOfOrderPackets)
	}
}

func TestBytesReceivedAccumulates(t *testing.T) {
	c := New()
	now := time.Unix(0, 0)
	c.ProcessHeader(headerAt(1), 100, now)
	c.ProcessHeader(headerAt(2), 200, now)

	if got := c.Snapshot().BytesReceived; got != 300 {
		t.Errorf("bytes_received = %d, want 300", got)
	}
}

func TestJitterFormula(t *testing.T) {
	// J0 = 0; Ji = Ji-1 + (|Ti - Ti-1| - Ji-1)/16, skipping the first packet.
	transits := []float64{0.100, 0.105, 0.095, 0.200, 0.198}

	c := New()
	wantJitter := 0.0
	var prevTransit float64
	for i, tr := range transits {
		sec := int64(tr)
		usec := int64(math.Round((tr - float64(sec)) * 1e6))
		// now is fixed at epoch so that transit = -sec - usec/1e6;
		// encode the desired transit as a negative header timestamp.
		hdr := wire.Header{Sec: -sec, Usec: -usec, PacketCount: int64(i + 1)}
		c.ProcessHeader(hdr, 8, time.Unix(0, 0))

		if i > 0 {
			diff := tr - prevTransit
			if diff < 0 {
				diff = -diff
			}
			wantJitter += (diff - wantJitter) / 16.0
		}
		prevTransit = tr
	}

	got := c.Snapshot().Jitter
	if math.Abs(got-wantJitter) > 1e-6 {
		t.Errorf("jitter = %v, want %v", got, wantJitter)
	}
}
