// Package fsm implements the control-channel state machines of spec §4.6:
// Client (driven by opcodes received from the server) and Server (which
// drives a pre-built schedule and also polls for unsolicited client
// opcodes).
package fsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cambridgegreys/goiperf/internal/config"
	"github.com/cambridgegreys/goiperf/internal/control"
	"github.com/cambridgegreys/goiperf/internal/obs"
	"github.com/cambridgegreys/goiperf/internal/result"
	"github.com/cambridgegreys/goiperf/internal/stream"
)

// ClientDeps supplies the collaborators the client FSM needs to act on
// incoming opcodes without importing dataplane/stream construction logic
// directly into this package's transition table.
type ClientDeps struct {
	// Connect builds and connects (but does not start) one stream worker
	// with the given id for the negotiated params. The worker's Start is
	// called later, when TEST_START arrives (spec §4.6: CREATE_STREAMS
	// only connects; TEST_START is what "starts every worker").
	Connect func(id int) (stream.Worker, error)

	// DiscoverMSS reads TCP_MAXSEG off the control connection (spec
	// §4.6 CREATE_STREAMS, UDP only).
	DiscoverMSS func() (int, error)
}

// Client drives the client-side control channel FSM of spec §4.6.
type Client struct {
	ctx    context.Context
	conn   *control.Conn
	params *config.Params
	deps   ClientDeps
	logger *obs.EventLogger
	tracer *obs.Tracer

	// compat preserves the reference's quirk (spec.md:156, spec.md:264):
	// the end timer only sends TEST_END itself when running in
	// compatibility mode against a peer that won't transition on its own.
	compat bool

	mu      sync.Mutex
	workers []stream.Worker

	startCPU  result.CPUSnapshot
	startTime time.Time

	endTimer    *time.Timer
	failsafe    *time.Timer
	displayed   bool
	localReport result.Report
	peerReport  result.Report
	haveLocal   bool
	havePeer    bool
	done        chan struct{}
	doneOnce    sync.Once
	lastErr     error
}

// NewClient builds a Client FSM bound to conn and params. The params MSS
// field is mutated in place as CREATE_STREAMS is processed. ctx
// governs the lifetime of stream workers started at TEST_START. compat
// gates the end timer's unsolicited TEST_END send (spec.md:156, :264).
func NewClient(ctx context.Context, conn *control.Conn, params *config.Params, deps ClientDeps, logger *obs.EventLogger, tracer *obs.Tracer, compat bool) *Client {
	if logger == nil {
		logger = obs.NoopEventLogger()
	}
	return &Client{
		ctx:    ctx,
		conn:   conn,
		params: params,
		deps:   deps,
		logger: logger,
		tracer: tracer,
		compat: compat,
		done:   make(chan struct{}),
	}
}

// Run reads and acts on opcodes until DISPLAY_RESULTS, SERVER_TERMINATE,
// IPERF_DONE, ACCESS_DENIED, or a fatal transport error terminates the
// loop (spec §4.6 client table).
func (c *Client) Run() error {
	for {
		select {
		case <-c.done:
			return c.lastErr
		default:
		}

		state, err := c.conn.RecvState()
		if err != nil {
			c.logger.LogTransportError("recv state", err)
			c.forceDisplay()
			return err
		}
		if err := c.handle(state); err != nil {
			c.lastErr = err
		}
		select {
		case <-c.done:
			return c.lastErr
		default:
		}
	}
}

func (c *Client) handle(state control.State) error {
	c.logger.LogStateTransition("?", state.String(), true)

	if c.tracer != nil {
		_, span := c.tracer.StartStateSpan(c.ctx, c.logger.SessionID(), state.String())
		defer span.End()
	}

	switch state {
	case control.ParamExchange:
		return c.conn.SendJSON(c.params)

	case control.CreateStreams:
		if c.params.UDP && c.deps.DiscoverMSS != nil {
			mss, err := c.deps.DiscoverMSS()
			if err == nil && mss > 0 {
				c.params.MSS = mss
			}
		}
		ids := stream.StreamIDs(c.params.Parallel)
		for _, id := range ids {
			w, err := c.deps.Connect(id)
			if err != nil {
				c.logger.LogTransportError("connect stream", err)
				continue
			}
			c.mu.Lock()
			c.workers = append(c.workers, w)
			c.mu.Unlock()
		}
		return nil

	case control.TestStart:
		snap, err := result.SnapshotCPU()
		if err == nil {
			c.startCPU = snap
		}
		c.startTime = time.Now()
		c.armTimers()

		c.mu.Lock()
		workers := append([]stream.Worker(nil), c.workers...)
		c.mu.Unlock()
		for _, w := range workers {
			w.Start(c.ctx)
		}
		return nil

	case control.TestRunning:
		return nil

	case control.ExchangeResults:
		c.mu.Lock()
		workers := append([]stream.Worker(nil), c.workers...)
		c.mu.Unlock()

		report, err := result.Collate(workers, c.startCPU)
		if err == nil {
			c.localReport = report
			c.haveLocal = true
		}
		if sendErr := c.conn.SendJSON(&report); sendErr != nil {
			c.logger.LogTransportError("send results", sendErr)
		}
		var peer result.Report
		if recvErr := c.conn.RecvJSON(&peer); recvErr == nil {
			c.peerReport = peer
			c.havePeer = true
		}
		return nil

	case control.DisplayResults:
		c.forceDisplay()
		return nil

	case control.ServerTerminate:
		c.forceDisplay()
		return nil

	case control.IperfDone:
		c.stopTimers()
		c.signalDone(nil)
		return nil

	case control.AccessDenied:
		c.stopTimers()
		err := fmt.Errorf("fsm: access denied")
		c.signalDone(err)
		return err

	case control.ServerError:
		return nil

	default:
		c.logger.LogUnrecognizedOpcode(int8(state))
		return nil
	}
}

func (c *Client) armTimers() {
	endAt := time.Duration(c.params.Time) * time.Second
	c.endTimer = time.AfterFunc(endAt, c.onEndTimer)
	c.failsafe = time.AfterFunc(endAt+10*time.Second, c.onFailsafe)
}

func (c *Client) stopTimers() {
	if c.endTimer != nil {
		c.endTimer.Stop()
	}
	if c.failsafe != nil {
		c.failsafe.Stop()
	}
}

// onEndTimer fires when the "end" timer matures. It sends a single
// best-effort TEST_END to the server only in compatibility mode
// (spec.md:156, :264) — without compat set, the server's own schedule is
// trusted to drive the transition and the client stays silent.
func (c *Client) onEndTimer() {
	if c.compat && c.conn != nil {
		_ = c.conn.SendState(control.TestEnd)
	}
}

// onFailsafe forces DISPLAY_RESULTS if the protocol stalled (spec §4.6,
// §5, §8 S4).
func (c *Client) onFailsafe() {
	c.logger.LogFailsafeTriggered(time.Since(c.startTime).Seconds())
	c.finish()
	c.signalDone(nil)
}

// finish marks DISPLAY_RESULTS as having run, exactly once, idempotently
// (spec §4.6 DISPLAY_RESULTS). It prints nothing; callers print the
// result objects from LocalReport and PeerReport.
func (c *Client) finish() {
	c.doneOnce.Do(func() {
		c.displayed = true
	})
}

// forceDisplay runs DISPLAY_RESULTS and tears the test down: timers are
// stopped, every stream worker is stopped and joined, and Run returns.
func (c *Client) forceDisplay() {
	c.finish()
	c.stopTimers()
	c.mu.Lock()
	workers := append([]stream.Worker(nil), c.workers...)
	c.mu.Unlock()
	for _, w := range workers {
		w.Stop()
		w.Wait()
	}
	c.signalDone(nil)
}

func (c *Client) signalDone(err error) {
	select {
	case <-c.done:
	default:
		c.lastErr = err
		close(c.done)
	}
}

// LocalReport returns the local collated results, if EXCHANGE_RESULTS ran.
func (c *Client) LocalReport() (result.Report, bool) { return c.localReport, c.haveLocal }

// PeerReport returns the peer's collated results, if they were received
// (best-effort per spec §7).
func (c *Client) PeerReport() (result.Report, bool) { return c.peerReport, c.havePeer }

// Displayed reports whether DISPLAY_RESULTS has run.
func (c *Client) Displayed() bool { return c.displayed }
