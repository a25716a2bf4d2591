package fsm

import (
	"context"
	"time"

	"github.com/cambridgegreys/goiperf/internal/config"
	"github.com/cambridgegreys/goiperf/internal/control"
	"github.com/cambridgegreys/goiperf/internal/obs"
	"github.com/cambridgegreys/goiperf/internal/result"
)

// ServerDeps supplies the collaborators the server FSM needs.
type ServerDeps struct {
	// StartDataplane builds and starts the appropriate data-plane server
	// for the negotiated params, returning a Reporter usable by
	// result.CollateFromPeers and a stop function.
	StartDataplane func(p *config.Params) (result.PeerReporter, func(), error)
}

// scheduleEntry is one step of the server's pre-built schedule (spec
// §4.6).
type scheduleEntry struct {
	state    control.State
	duration time.Duration
}

// Server drives the server-side control channel FSM of spec §4.6: builds
// a schedule at PARAM_EXCHANGE time, then walks it, polling for
// unsolicited client opcodes between scheduled sends except during the
// "ignore peer I/O" state set.
type Server struct {
	conn   *control.Conn
	deps   ServerDeps
	logger *obs.EventLogger
	tracer *obs.Tracer

	params   config.Params
	schedule []scheduleEntry
	stopDP   func()
	peers    result.PeerReporter

	startCPU  result.CPUSnapshot
	startTime time.Time

	endTimer *time.Timer
	failsafe *time.Timer
	active   bool

	localReport result.Report
	peerResult  result.Report
	havePeer    bool
}

// NewServer builds a Server FSM bound to conn.
func NewServer(conn *control.Conn, deps ServerDeps, logger *obs.EventLogger, tracer *obs.Tracer) *Server {
	if logger == nil {
		logger = obs.NoopEventLogger()
	}
	return &Server{conn: conn, deps: deps, logger: logger, tracer: tracer, active: true}
}

// Run drives the schedule to completion (spec §4.6 server behavior).
func (s *Server) Run(interval float64) error {
	// PARAM_EXCHANGE: recv params, start data-plane server, build schedule.
	if err := s.conn.SendState(control.ParamExchange); err != nil {
		s.active = false
		return err
	}
	var params config.Params
	if err := s.conn.RecvJSON(&params); err != nil {
		s.logger.LogTransportError("recv params", err)
		s.active = false
		return err
	}
	s.params = params

	if s.deps.StartDataplane != nil {
		reporter, stop, err := s.deps.StartDataplane(&s.params)
		if err == nil {
			s.peers = reporter
			s.stopDP = stop
		} else {
			s.logger.LogTransportError("start dataplane", err)
		}
	}

	s.schedule = buildSchedule(s.params, interval)

	for _, entry := range s.schedule {
		if err := s.step(entry); err != nil {
			s.transitionTestEnd()
			return err
		}
		if !s.active {
			return nil
		}
	}
	return nil
}

// buildSchedule constructs the fixed schedule of spec §4.6: PARAM_EXCHANGE
// is already consumed by Run's setup, so the remaining entries are
// CREATE_STREAMS (opcode announce only), TEST_START,
// repeated TEST_RUNNING, then IPERF_DONE.
func buildSchedule(p config.Params, interval float64) []scheduleEntry {
	const tenthSecond = 100 * time.Millisecond
	sched := []scheduleEntry{
		{state: control.CreateStreams, duration: tenthSecond},
		{state: control.TestStart, duration: tenthSecond},
	}

	if interval <= 0 {
		interval = 1.0
	}
	intervalDur := time.Duration(interval * float64(time.Second))
	target := time.Duration(p.Time+2) * time.Second

	var elapsed time.Duration
	for elapsed < target {
		sched = append(sched, scheduleEntry{state: control.TestRunning, duration: intervalDur})
		elapsed += intervalDur
	}

	sched = append(sched, scheduleEntry{state: control.IperfDone, duration: tenthSecond})
	return sched
}

// step executes one schedule entry: poll for an unsolicited peer opcode
// unless the entry is in the ignore-peer-IO set, else send the scheduled
// opcode and sleep for its duration (spec §4.6).
func (s *Server) step(entry scheduleEntry) error {
	if control.IgnorePeerIO[entry.state] {
		return s.enter(entry.state)
	}

	peerState, err := s.conn.TryRecvState()
	if err == nil {
		return s.enter(peerState)
	}
	if err != control.ErrWouldBlock {
		return err
	}

	if err := s.conn.SendState(entry.state); err != nil {
		return err
	}
	if err := s.enterLocal(entry.state); err != nil {
		return err
	}
	time.Sleep(entry.duration)
	return nil
}

// enter processes a peer-driven transition: the server still sends the
// opcode it observed was chosen so both sides' logs agree, then runs the
// local action for it.
func (s *Server) enter(state control.State) error {
	if err := s.conn.SendState(state); err != nil {
		return err
	}
	return s.enterLocal(state)
}

func (s *Server) enterLocal(state control.State) error {
	s.logger.LogStateTransition("?", state.String(), false)

	if s.tracer != nil {
		_, span := s.tracer.StartStateSpan(context.Background(), s.logger.SessionID(), state.String())
		defer span.End()
	}

	switch state {
	case control.TestStart:
		snap, err := result.SnapshotCPU()
		if err == nil {
			s.startCPU = snap
		}
		s.startTime = time.Now()
		s.armTimers()
		return nil

	case control.ExchangeResults:
		var peer result.Report
		if err := s.conn.RecvJSON(&peer); err == nil {
			s.peerResult = peer
			s.havePeer = true
		}
		report, err := result.CollateFromPeers(nil, s.peers, s.startCPU, s.startTime)
		if err == nil {
			s.localReport = report
		}
		return s.conn.SendJSON(&report)

	case control.DisplayResults:
		s.stopTimers()
		if s.stopDP != nil {
			s.stopDP()
		}
		return nil

	case control.TestEnd:
		s.transitionTestEnd()
		return nil
	}
	return nil
}

// transitionTestEnd runs spec §4.6's TEST_END sequence: EXCHANGE_RESULTS
// then DISPLAY_RESULTS then cleanup, sending each opcode to the client
// before running its local action. EXCHANGE_RESULTS failing because the
// client already closed the socket is non-fatal (Open Question decision in
// DESIGN.md) — DISPLAY_RESULTS still runs with whatever local report
// exists.
func (s *Server) transitionTestEnd() {
	s.active = false
	_ = s.conn.SendState(control.ExchangeResults)
	_ = s.enterLocal(control.ExchangeResults)
	_ = s.conn.SendState(control.DisplayResults)
	_ = s.enterLocal(control.DisplayResults)
}

func (s *Server) armTimers() {
	endAt := time.Duration(s.params.Time) * time.Second
	s.endTimer = time.AfterFunc(endAt, func() {})
	s.failsafe = time.AfterFunc(endAt+10*time.Second, func() {
		s.logger.LogFailsafeTriggered(time.Since(s.startTime).Seconds())
	})
}

func (s *Server) stopTimers() {
	if s.endTimer != nil {
		s.endTimer.Stop()
	}
	if s.failsafe != nil {
		s.failsafe.Stop()
	}
}

// LocalReport returns the server's collated local+peer report.
func (s *Server) LocalReport() result.Report { return s.localReport }

// PeerResult returns the client's results, if EXCHANGE_RESULTS succeeded.
func (s *Server) PeerResult() (result.Report, bool) { return s.peerResult, s.havePeer }

// Active reports whether the control channel is still considered active.
func (s *Server) Active() bool { return s.active }
