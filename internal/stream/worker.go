package stream

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cambridgegreys/goiperf/internal/counters"
	"github.com/cambridgegreys/goiperf/internal/metrics"
	"github.com/cambridgegreys/goiperf/internal/obs"
)

// Role distinguishes a stream worker's direction.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Transport distinguishes the wire transport a stream worker uses.
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportUDP Transport = "udp"
)

// Result is one stream worker's terminal result, gathered by the result
// collator into the JSON object exchanged at EXCHANGE_RESULTS (spec §4.4,
// §4.7).
type Result struct {
	StreamID    int     `json:"id"`
	Bytes       int64   `json:"bytes"`
	Retransmits int64   `json:"retransmits"`
	Jitter      float64 `json:"jitter"`
	Errors      int64   `json:"errors"`
	Packets     int64   `json:"packets"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
}

// Worker is implemented by udpSender, udpReceiver, tcpSender, tcpReceiver
// (spec §2 item 3, §4.4).
type Worker interface {
	ID() int
	Transport() Transport
	Role() Role
	Start(ctx context.Context)
	Stop()
	Wait()
	Result() Result
}

// iterator performs one send or receive iteration and reports bytes
// transferred. A nil error with zero bytes on a would-block condition is
// silently tolerated by run (spec §4.4, §7).
type iterator func() (n int, err error)

// pollTimeout is the per-iteration read/write deadline stream workers set
// on their (otherwise blocking) net.Conn to approximate the reference's
// non-blocking data socket: a short timeout surfaces as a net.Error with
// Timeout() == true, which isWouldBlock folds into the same silent no-op
// path as a raw EWOULDBLOCK/EAGAIN (spec §4.4, §5 "tight poll with no
// explicit sleep"). Setting the fd itself non-blocking via
// golang.org/x/sys/unix, bypassing the runtime netpoller that already owns
// it, would race the poller's internal state; a short deadline achieves
// the same observable behavior through the supported net.Conn API.
const pollTimeout = 2 * time.Millisecond

// base is the shared scheduling-unit shape of every stream worker:
// one goroutine, a context-cancelable "done" flag, a mutex-guarded
// terminal result, and a counters.Counters instance. Generalized from the
// teacher's VU engine/executor spawn-and-join shape (internal/vu) from
// "virtual user" to "data stream".
type base struct {
	id        int
	transport Transport
	role      Role
	conn      net.Conn
	counters  *counters.Counters
	duration  time.Duration

	done      atomic.Bool
	closeOnce sync.Once

	mu     sync.Mutex
	result Result

	wg     sync.WaitGroup
	logger *obs.EventLogger
	tracer *obs.Tracer
}

func newBase(id int, transport Transport, role Role, conn net.Conn, duration time.Duration, logger *obs.EventLogger, tracer *obs.Tracer) base {
	if logger == nil {
		logger = obs.NoopEventLogger()
	}
	return base{
		id:        id,
		transport: transport,
		role:      role,
		conn:      conn,
		counters:  counters.New(),
		duration:  duration,
		logger:    logger,
		tracer:    tracer,
	}
}

func (b *base) ID() int              { return b.id }
func (b *base) Transport() Transport { return b.transport }
func (b *base) Role() Role           { return b.role }

// Stop signals the run loop to exit and closes the socket. Idempotent
// (spec §4.4 "Shutdown is idempotent").
func (b *base) Stop() {
	b.done.Store(true)
	b.closeOnce.Do(func() {
		b.conn.Close()
	})
}

// spawn starts the run loop in its own goroutine, joined by Wait.
func (b *base) spawn(ctx context.Context, iterate iterator) {
	b.logger.LogStreamStart(b.id, string(b.transport), string(b.role))
	metrics.ActiveStreams.Inc()
	b.wg.Add(1)
	go b.run(ctx, iterate)
}

func (b *base) Wait() {
	b.wg.Wait()
}

func (b *base) Result() Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// run drives the common main loop of spec §4.4: hold the result mutex for
// the lifetime of the loop so the collator's Result() call blocks until a
// complete terminal snapshot is written, iterate until duration elapses or
// done is set, and tolerate would-block/peer-closed conditions silently.
func (b *base) run(ctx context.Context, iterate iterator) {
	defer b.wg.Done()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tracer != nil {
		var span trace.Span
		ctx, span = b.tracer.StartStreamSpan(ctx, obs.StreamSpanOptions{
			StreamID:  b.id,
			Transport: string(b.transport),
			Role:      string(b.role),
		})
		defer span.End()
	}

	start := time.Now()
	var total int64

	for time.Since(start) < b.duration && !b.done.Load() {
		select {
		case <-ctx.Done():
			b.done.Store(true)
		default:
		}
		if b.done.Load() {
			break
		}

		n, err := iterate()
		if err != nil {
			if isWouldBlock(err) {
				continue
			}
			if isPeerClosed(err) {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			continue
		}
		total += int64(n)
	}

	snap := b.counters.Snapshot()
	endTime := time.Since(start).Seconds()

	b.result = Result{
		StreamID:    b.id,
		Bytes:       total,
		Retransmits: 0,
		Jitter:      snap.Jitter,
		Errors:      snap.CntError,
		Packets:     snap.PacketCount,
		StartTime:   0,
		EndTime:     endTime,
	}

	if b.logger != nil {
		b.logger.LogStreamStop(b.id, b.result.Bytes, b.result.Packets, b.result.Errors)
	}
	label := strconv.Itoa(b.id)
	metrics.StreamErrorsTotal.WithLabelValues(label).Add(float64(snap.CntError))
	metrics.OutOfOrderPacketsTotal.WithLabelValues(label).Add(float64(snap.OutOfOrderPackets))
	metrics.ActiveStreams.Dec()
}

// isWouldBlock reports a transient non-blocking I/O condition that the
// worker loop should silently count as a no-op (spec §4.4, §7).
func isWouldBlock(err error) bool {
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// isPeerClosed reports one of the connection errors that should terminate
// the worker loop (spec §4.4): ConnectionRefused, ConnectionReset,
// BrokenPipe.
func isPeerClosed(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
