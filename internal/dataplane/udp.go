package dataplane

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cambridgegreys/goiperf/internal/metrics"
	"github.com/cambridgegreys/goiperf/internal/obs"
	"github.com/cambridgegreys/goiperf/internal/stream"
	"github.com/cambridgegreys/goiperf/internal/wire"
)

// UDPServer implements spec §4.5's UDP data-plane server: one bound
// net.PacketConn demultiplexed by peer address, with a connect-reply
// handshake on each peer's first datagram.
//
// In reverse mode (params.reverse set), completing the handshake with a
// new peer hands a pinnedPacketConn over the shared listening socket to
// a stream.NewUDPSender worker instead of demultiplexing inbound headers,
// mirroring TCPServer's reverse path.
type UDPServer struct {
	conn      net.PacketConn
	bufSize   int
	use64     bool
	peers     *peerTable
	logger    *obs.EventLogger
	tracer    *obs.Tracer
	bytesRecv int64
	mu        sync.Mutex

	reverse    bool
	payloadLen int
	duration   time.Duration
	rl         *stream.RateLimiter
	nextID     int64

	sendersMu sync.Mutex
	senders   []stream.Worker

	done   chan struct{}
	closed chan struct{}
}

// NewUDPServer binds a UDP data-plane server to addr ("host:port") in
// receive mode. net.ListenPacket does not set SO_REUSEADDR on a unicast UDP
// socket, so the bound address is not opened for reuse.
func NewUDPServer(addr string, bufSize int, use64 bool, logger *obs.EventLogger) (*UDPServer, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = obs.NoopEventLogger()
	}
	return &UDPServer{
		conn:    conn,
		bufSize: bufSize,
		use64:   use64,
		peers:   newPeerTable(),
		logger:  logger,
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}, nil
}

// NewUDPSenderServer binds a UDP data-plane server to addr in reverse
// mode: every peer that completes the connect handshake is driven by a
// stream.NewUDPSender worker for duration (spec §9 reverse mode).
func NewUDPSenderServer(addr string, payloadLen int, use64 bool, duration time.Duration, rl *stream.RateLimiter, logger *obs.EventLogger, tracer *obs.Tracer) (*UDPServer, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = obs.NoopEventLogger()
	}
	return &UDPServer{
		conn: conn, bufSize: payloadLen, use64: use64, peers: newPeerTable(), logger: logger, tracer: tracer,
		reverse: true, payloadLen: payloadLen, duration: duration, rl: rl,
		done: make(chan struct{}), closed: make(chan struct{}),
	}, nil
}

// Addr returns the bound local address.
func (s *UDPServer) Addr() net.Addr { return s.conn.LocalAddr() }

// Serve runs the receive loop until Stop is called or ctx is canceled.
// Grounded on the teacher's accept-loop-in-a-goroutine shape
// (internal/vu/engine.go runSwarmMode), generalized to a read loop. In
// reverse mode the loop still runs — it only ever sees each peer's
// connect handshake datagram — because the handshake is how a reverse
// server learns the client's address to send to.
func (s *UDPServer) Serve(ctx context.Context) {
	defer close(s.closed)
	buf := make([]byte, s.bufSize)
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.conn.Close()
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, peer, err := s.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
				continue
			}
			return
		}
		if n <= 0 {
			continue
		}

		key := peerKey(peer)
		c, created := s.peers.getOrCreate(key)
		if created {
			metrics.ActiveDataplanePeers.Set(float64(s.peers.len()))
			s.sendConnectReply(peer)
			if s.reverse {
				s.spawnSender(ctx, peer)
			}
			continue
		}
		if s.reverse {
			continue
		}

		use64 := s.use64
		size := wire.Size(use64)
		if n < size {
			continue
		}
		hdr := wire.Decode(buf[:size], use64)
		c.ProcessHeader(hdr, n, time.Now())

		s.mu.Lock()
		s.bytesRecv += int64(n)
		s.mu.Unlock()
		metrics.StreamBytesTotal.WithLabelValues("udp", "receive").Add(float64(n))
	}
}

// spawnSender hands a stream.NewUDPSender worker a pinnedPacketConn over the
// shared listening socket, so reverse-mode datagrams still originate
// from the bound data port — the client's connect handshake dialed a
// connected UDP socket against that exact port, and a connected socket
// only accepts datagrams whose source address matches what it dialed.
func (s *UDPServer) spawnSender(ctx context.Context, peer net.Addr) {
	sc := &pinnedPacketConn{pc: s.conn, peer: peer}

	id := int(atomic.AddInt64(&s.nextID, 1))
	w := stream.NewUDPSender(id, sc, s.payloadLen, s.use64, s.duration, s.rl, s.logger, s.tracer)

	s.sendersMu.Lock()
	s.senders = append(s.senders, w)
	s.sendersMu.Unlock()

	w.Start(ctx)
}

// pinnedPacketConn adapts the server's shared listening PacketConn into
// a single-peer net.Conn for stream.NewUDPSender. Read is never called
// by a sender. Close is a no-op: the underlying socket is shared across
// every reverse peer and is closed once, by UDPServer.Stop. Deadlines
// are no-ops for the same sharing reason — a per-sender deadline on a
// socket every reverse peer writes through would race every other
// sender's deadline, and a local UDP send essentially never blocks long
// enough for the pollTimeout this would otherwise approximate to matter.
type pinnedPacketConn struct {
	pc   net.PacketConn
	peer net.Addr
}

func (c *pinnedPacketConn) Read(b []byte) (int, error)       { return 0, net.ErrClosed }
func (c *pinnedPacketConn) Write(b []byte) (int, error)      { return c.pc.WriteTo(b, c.peer) }
func (c *pinnedPacketConn) Close() error                     { return nil }
func (c *pinnedPacketConn) LocalAddr() net.Addr              { return c.pc.LocalAddr() }
func (c *pinnedPacketConn) RemoteAddr() net.Addr             { return c.peer }
func (c *pinnedPacketConn) SetDeadline(time.Time) error      { return nil }
func (c *pinnedPacketConn) SetReadDeadline(time.Time) error  { return nil }
func (c *pinnedPacketConn) SetWriteDeadline(time.Time) error { return nil }

func (s *UDPServer) sendConnectReply(peer net.Addr) {
	var reply [4]byte
	binary.NativeEndian.PutUint32(reply[:], stream.UDPConnectReply)
	s.conn.WriteTo(reply[:], peer)
}

// Stop shuts the server down; Serve returns once the in-flight read
// completes.
func (s *UDPServer) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.conn.Close()
	<-s.closed

	if s.reverse {
		s.sendersMu.Lock()
		senders := append([]stream.Worker(nil), s.senders...)
		s.sendersMu.Unlock()
		for _, w := range senders {
			w.Stop()
		}
	}
}

// BytesReceived returns the server-level total byte count (spec §4.5:
// "total byte count is tracked at the server level as well").
func (s *UDPServer) BytesReceived() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesRecv
}

// Peers returns a snapshot of per-peer counters, used by the result
// collator after shutdown (spec §4.7). In reverse mode it holds one entry
// per handshaked peer whose counters were never fed a packet.
func (s *UDPServer) Peers() map[string]*PeerCounters {
	snap := s.peers.snapshot()
	out := make(map[string]*PeerCounters, len(snap))
	for k, v := range snap {
		out[k] = &PeerCounters{addr: k, counters: v}
	}
	return out
}

// Senders returns the reverse-mode sender workers, nil in receive mode.
func (s *UDPServer) Senders() []stream.Worker {
	s.sendersMu.Lock()
	defer s.sendersMu.Unlock()
	return append([]stream.Worker(nil), s.senders...)
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}
