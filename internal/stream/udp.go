package stream

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cambridgegreys/goiperf/internal/metrics"
	"github.com/cambridgegreys/goiperf/internal/obs"
	"github.com/cambridgegreys/goiperf/internal/wire"
)

// udpSender sends one UDP datagram per iteration, stamping each with a
// monotonically increasing packet_count and the send-time timestamp
// (spec §4.4).
type udpSender struct {
	base
	buf         []byte
	use64       bool
	packetCount int64
	bytesSent   int64
	start       time.Time
	rateLimiter *RateLimiter
}

// NewUDPSender builds a UDP sender stream worker. payloadLen is the total
// datagram size, including the header.
func NewUDPSender(id int, conn net.Conn, payloadLen int, use64 bool, duration time.Duration, rl *RateLimiter, logger *obs.EventLogger, tracer *obs.Tracer) Worker {
	headerSize := wire.Size(use64)
	if payloadLen < headerSize {
		payloadLen = headerSize
	}
	return &udpSender{
		base:        newBase(id, TransportUDP, RoleSender, conn, duration, logger, tracer),
		buf:         make([]byte, payloadLen),
		use64:       use64,
		rateLimiter: rl,
	}
}

func (s *udpSender) Start(ctx context.Context) {
	s.start = time.Now()
	s.spawn(ctx, s.sendOne)
}

func (s *udpSender) sendOne() (int, error) {
	elapsed := time.Since(s.start)
	if s.rateLimiter != nil && !s.rateLimiter.Allow(s.bytesSent, elapsed) {
		return 0, nil
	}

	s.packetCount++
	now := time.Now()
	hdr := wire.Header{
		Sec:         now.Unix(),
		Usec:        int64(now.Nanosecond() / 1000),
		PacketCount: s.packetCount,
	}
	if s.use64 {
		hdr.Encode64(s.buf)
	} else {
		hdr.Encode32(s.buf)
	}

	s.conn.SetWriteDeadline(now.Add(pollTimeout))
	n, err := s.conn.Write(s.buf)
	if err != nil {
		// packetCount is not rolled back: the reference packs the sequence
		// number into the header before attempting the send and never
		// retries a swallowed error with the same number
		// (_examples/original_source/iperf_data.py:207-213).
		return 0, err
	}
	s.bytesSent += int64(n)
	metrics.StreamPacketsTotal.WithLabelValues("send").Inc()
	metrics.StreamBytesTotal.WithLabelValues("udp", "send").Add(float64(n))
	return n, nil
}

// udpReceiver receives UDP datagrams and feeds each into Counters for
// loss/jitter/out-of-order accounting (spec §4.3, §4.4).
type udpReceiver struct {
	base
	buf []byte
}

// NewUDPReceiver builds a UDP receiver stream worker.
func NewUDPReceiver(id int, conn net.Conn, bufSize int, duration time.Duration, logger *obs.EventLogger, tracer *obs.Tracer) Worker {
	return &udpReceiver{
		base: newBase(id, TransportUDP, RoleReceiver, conn, duration, logger, tracer),
		buf:  make([]byte, bufSize),
	}
}

func (r *udpReceiver) Start(ctx context.Context) {
	r.spawn(ctx, r.recvOne)
}

func (r *udpReceiver) recvOne() (int, error) {
	r.conn.SetReadDeadline(time.Now().Add(pollTimeout))
	n, err := r.conn.Read(r.buf)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}

	use64 := n >= wire.Header64Size
	hdr := wire.Decode(r.buf[:min(n, wire.Size(use64))], use64)
	r.counters.ProcessHeader(hdr, n, time.Now())

	label := strconv.Itoa(r.id)
	metrics.StreamPacketsTotal.WithLabelValues("receive").Inc()
	metrics.StreamBytesTotal.WithLabelValues("udp", "receive").Add(float64(n))
	metrics.JitterSeconds.WithLabelValues(label).Set(r.counters.Snapshot().Jitter)

	return n, nil
}
