package stream

import (
	"context"
	"net"
	"time"

	"github.com/cambridgegreys/goiperf/internal/metrics"
	"github.com/cambridgegreys/goiperf/internal/obs"
)

// tcpSender sends the configured payload buffer once per iteration
// (spec §4.4).
type tcpSender struct {
	base
	buf         []byte
	bytesSent   int64
	start       time.Time
	rateLimiter *RateLimiter
}

// NewTCPSender builds a TCP sender stream worker with a fixed-size
// payload buffer of the configured len.
func NewTCPSender(id int, conn net.Conn, payloadLen int, duration time.Duration, rl *RateLimiter, logger *obs.EventLogger, tracer *obs.Tracer) Worker {
	return &tcpSender{
		base:        newBase(id, TransportTCP, RoleSender, conn, duration, logger, tracer),
		buf:         make([]byte, payloadLen),
		rateLimiter: rl,
	}
}

func (s *tcpSender) Start(ctx context.Context) {
	s.start = time.Now()
	s.spawn(ctx, s.sendOne)
}

func (s *tcpSender) sendOne() (int, error) {
	elapsed := time.Since(s.start)
	if s.rateLimiter != nil && !s.rateLimiter.Allow(s.bytesSent, elapsed) {
		return 0, nil
	}

	s.conn.SetWriteDeadline(time.Now().Add(pollTimeout))
	n, err := s.conn.Write(s.buf)
	if err != nil {
		return 0, err
	}
	s.bytesSent += int64(n)
	metrics.StreamBytesTotal.WithLabelValues("tcp", "send").Add(float64(n))
	return n, nil
}

// tcpReceiver reads up to bufsize bytes per iteration and accumulates
// byte count until the peer closes or resets the connection (spec §4.5,
// §4.4).
type tcpReceiver struct {
	base
	buf []byte
}

// NewTCPReceiver builds a TCP receiver stream worker.
func NewTCPReceiver(id int, conn net.Conn, bufSize int, duration time.Duration, logger *obs.EventLogger, tracer *obs.Tracer) Worker {
	return &tcpReceiver{
		base: newBase(id, TransportTCP, RoleReceiver, conn, duration, logger, tracer),
		buf:  make([]byte, bufSize),
	}
}

func (r *tcpReceiver) Start(ctx context.Context) {
	r.spawn(ctx, r.recvOne)
}

func (r *tcpReceiver) recvOne() (int, error) {
	r.conn.SetReadDeadline(time.Now().Add(pollTimeout))
	n, err := r.conn.Read(r.buf)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}
	r.counters.AddBytes(n)
	metrics.StreamBytesTotal.WithLabelValues("tcp", "receive").Add(float64(n))
	return n, nil
}
