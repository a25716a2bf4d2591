package dataplane

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cambridgegreys/goiperf/internal/metrics"
	"github.com/cambridgegreys/goiperf/internal/obs"
	"github.com/cambridgegreys/goiperf/internal/stream"
)

// TCPServer implements spec §4.5's TCP data-plane server: one
// accept-loop goroutine plus one handler goroutine per connection,
// keyed by client address after the 37-byte cookie preamble is consumed.
//
// In reverse mode (params.reverse set) the roles invert: each accepted
// connection becomes a stream.Worker sender instead of a demultiplexed
// receive-side Counters, since spec §4.4's stream worker shape already
// covers the send loop and its own terminal result.
type TCPServer struct {
	ln        net.Listener
	bufSize   int
	peers     *peerTable
	logger    *obs.EventLogger
	tracer    *obs.Tracer
	bytesRecv int64
	mu        sync.Mutex
	wg        sync.WaitGroup

	reverse    bool
	payloadLen int
	duration   time.Duration
	rl         *stream.RateLimiter
	ctx        context.Context
	nextID     int64

	sendersMu sync.Mutex
	senders   []stream.Worker
}

// NewTCPServer binds a TCP data-plane server to addr in receive mode.
func NewTCPServer(addr string, bufSize int, logger *obs.EventLogger) (*TCPServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = obs.NoopEventLogger()
	}
	return &TCPServer{ln: ln, bufSize: bufSize, peers: newPeerTable(), logger: logger}, nil
}

// NewTCPSenderServer binds a TCP data-plane server to addr in reverse
// mode: every accepted connection is driven by a stream.TCPSender for
// duration, optionally capped by rl (spec §9 reverse mode).
func NewTCPSenderServer(ctx context.Context, addr string, payloadLen int, duration time.Duration, rl *stream.RateLimiter, logger *obs.EventLogger, tracer *obs.Tracer) (*TCPServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = obs.NoopEventLogger()
	}
	return &TCPServer{
		ln: ln, bufSize: payloadLen, peers: newPeerTable(), logger: logger, tracer: tracer,
		reverse: true, payloadLen: payloadLen, duration: duration, rl: rl, ctx: ctx,
	}, nil
}

// Addr returns the bound local address.
func (s *TCPServer) Addr() net.Addr { return s.ln.Addr() }

// Serve runs the accept loop until Stop closes the listener. Grounded on
// the teacher's per-VU goroutine spawn shape (internal/vu/engine.go
// spawnVULocked), generalized to per-connection handlers.
func (s *TCPServer) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		if s.reverse {
			s.wg.Add(1)
			go s.handleReverse(conn)
			continue
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *TCPServer) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	cookie := make([]byte, 37)
	if _, err := io.ReadFull(conn, cookie); err != nil {
		return
	}

	key := peerKey(conn.RemoteAddr())
	c, created := s.peers.getOrCreate(key)
	if created {
		metrics.ActiveDataplanePeers.Set(float64(s.peers.len()))
	}

	buf := make([]byte, s.bufSize)
	for {
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := conn.Read(buf)
		if n > 0 {
			c.AddBytes(n)
			s.mu.Lock()
			s.bytesRecv += int64(n)
			s.mu.Unlock()
			metrics.StreamBytesTotal.WithLabelValues("tcp", "receive").Add(float64(n))
		}
		if err != nil {
			var netErr net.Error
			if asNetError(err, &netErr) && netErr.Timeout() {
				continue
			}
			return
		}
	}
}

// handleReverse consumes the cookie preamble the same as handle, then
// hands the connection to a stream.NewTCPSender worker for the negotiated
// duration (spec §4.4, §9 reverse mode). The sender is started
// immediately on accept rather than waiting for a separate TEST_START
// signal threaded down to the data plane — a deliberate simplification
// recorded in DESIGN.md.
func (s *TCPServer) handleReverse(conn net.Conn) {
	defer s.wg.Done()

	cookie := make([]byte, 37)
	if _, err := io.ReadFull(conn, cookie); err != nil {
		conn.Close()
		return
	}

	id := int(atomic.AddInt64(&s.nextID, 1))
	w := stream.NewTCPSender(id, conn, s.payloadLen, s.duration, s.rl, s.logger, s.tracer)

	s.sendersMu.Lock()
	s.senders = append(s.senders, w)
	s.sendersMu.Unlock()

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	w.Start(ctx)
}

// Stop closes the listener and waits for in-flight handlers to return
// (they exit once the peer closes or resets the connection, per spec
// §4.5).
func (s *TCPServer) Stop() {
	s.ln.Close()
	if s.reverse {
		s.sendersMu.Lock()
		senders := append([]stream.Worker(nil), s.senders...)
		s.sendersMu.Unlock()
		for _, w := range senders {
			w.Stop()
		}
	}
	s.wg.Wait()
}

// BytesReceived returns the server-level total byte count.
func (s *TCPServer) BytesReceived() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesRecv
}

// Peers returns a snapshot of per-peer counters. In reverse mode no peers
// are recorded, so the returned map is empty.
func (s *TCPServer) Peers() map[string]*PeerCounters {
	snap := s.peers.snapshot()
	out := make(map[string]*PeerCounters, len(snap))
	for k, v := range snap {
		out[k] = &PeerCounters{addr: k, counters: v}
	}
	return out
}

// Senders returns the reverse-mode sender workers, nil in receive mode.
func (s *TCPServer) Senders() []stream.Worker {
	s.sendersMu.Lock()
	defer s.sendersMu.Unlock()
	return append([]stream.Worker(nil), s.senders...)
}
