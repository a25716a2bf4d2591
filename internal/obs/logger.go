// Package obs carries the ambient observability stack: structured event
// logging via log/slog and OpenTelemetry tracing around the FSM and stream
// worker lifetimes.
package obs

import (
	"io"
	"log/slog"
	"os"
)

// EventLogger provides structured JSON logging for the protocol-level
// events of a single test session, adapted from the teacher's run/worker
// scoped event logger to the client/server session scope of this protocol.
type EventLogger struct {
	logger    *slog.Logger
	sessionID string
	role      string
}

// NewEventLogger creates an EventLogger with JSON output to stdout, tagged
// with session_id and role ("client" or "server") base attributes.
func NewEventLogger(sessionID, role string) *EventLogger {
	return newEventLogger(os.Stdout, sessionID, role)
}

// NewEventLoggerWithWriter creates an EventLogger writing to a custom
// writer, useful for tests.
func NewEventLoggerWithWriter(sessionID, role string, w io.Writer) *EventLogger {
	return newEventLogger(w, sessionID, role)
}

func newEventLogger(w io.Writer, sessionID, role string) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler).With("session_id", sessionID, "role", role)
	return &EventLogger{logger: logger, sessionID: sessionID, role: role}
}

// SessionID returns the session id this logger was tagged with, for
// callers (tracing spans) that need to correlate with the same id.
func (el *EventLogger) SessionID() string { return el.sessionID }

// NoopEventLogger discards all events; used when no session id is known
// yet or logging is disabled.
func NoopEventLogger() *EventLogger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &EventLogger{logger: slog.New(handler)}
}

// LogStateTransition logs a control-channel FSM transition.
// event: "state_transition"
func (el *EventLogger) LogStateTransition(fromState, toState string, peerDriven bool) {
	el.logger.Info("state_transition",
		"from_state", fromState,
		"to_state", toState,
		"peer_driven", peerDriven,
	)
}

// LogStreamStart logs a stream worker starting.
// event: "stream_start"
func (el *EventLogger) LogStreamStart(streamID int, transport, role string) {
	el.logger.Info("stream_start",
		"stream_id", streamID,
		"transport", transport,
		"stream_role", role,
	)
}

// LogStreamStop logs a stream worker's terminal result being recorded.
// event: "stream_stop"
func (el *EventLogger) LogStreamStop(streamID int, bytes, packets, errors int64) {
	el.logger.Info("stream_stop",
		"stream_id", streamID,
		"bytes", bytes,
		"packets", packets,
		"errors", errors,
	)
}

// LogFramingError logs a short-read framing failure on the control
// channel.
// event: "framing_error"
func (el *EventLogger) LogFramingError(part string, want, got int) {
	el.logger.Warn("framing_error",
		"part", part,
		"want", want,
		"got", got,
	)
}

// LogTransportError logs a transport-level failure that marks the control
// channel inactive.
// event: "transport_error"
func (el *EventLogger) LogTransportError(op string, err error) {
	el.logger.Warn("transport_error",
		"op", op,
		"error", err.Error(),
	)
}

// LogFailsafeTriggered logs the failsafe timer forcing DISPLAY_RESULTS.
// event: "failsafe_triggered"
func (el *EventLogger) LogFailsafeTriggered(elapsedSeconds float64) {
	el.logger.Warn("failsafe_triggered",
		"elapsed_seconds", elapsedSeconds,
	)
}

// LogUnrecognizedOpcode logs an unrecognized opcode tolerated as a no-op.
// event: "unrecognized_opcode"
func (el *EventLogger) LogUnrecognizedOpcode(opcode int8) {
	el.logger.Info("unrecognized_opcode", "opcode", opcode)
}
