// Package control implements the control channel: the session cookie,
// single-byte state opcodes, and the length-prefixed JSON frames exchanged
// over the reliable byte stream between client and server.
package control

// State is a single signed-byte control-channel opcode.
type State int8

const (
	TestStart       State = 1
	TestRunning     State = 2
	ResultRequest   State = 3
	TestEnd         State = 4
	StreamBegin     State = 5
	StreamRunning   State = 6
	StreamEnd       State = 7
	AllStreamsEnd   State = 8
	ParamExchange   State = 9
	CreateStreams   State = 10
	ServerTerminate State = 11
	ClientTerminate State = 12
	ExchangeResults State = 13
	DisplayResults  State = 14
	IperfStart      State = 15
	IperfDone       State = 16
	AccessDenied    State = -1
	ServerError     State = -2
)

var stateNames = map[State]string{
	TestStart:       "TEST_START",
	TestRunning:     "TEST_RUNNING",
	ResultRequest:   "RESULT_REQUEST",
	TestEnd:         "TEST_END",
	StreamBegin:     "STREAM_BEGIN",
	StreamRunning:   "STREAM_RUNNING",
	StreamEnd:       "STREAM_END",
	AllStreamsEnd:   "ALL_STREAMS_END",
	ParamExchange:   "PARAM_EXCHANGE",
	CreateStreams:   "CREATE_STREAMS",
	ServerTerminate: "SERVER_TERMINATE",
	ClientTerminate: "CLIENT_TERMINATE",
	ExchangeResults: "EXCHANGE_RESULTS",
	DisplayResults:  "DISPLAY_RESULTS",
	IperfStart:      "IPERF_START",
	IperfDone:       "IPERF_DONE",
	AccessDenied:    "ACCESS_DENIED",
	ServerError:     "SERVER_ERROR",
}

// String returns the opcode's protocol name, or "UNKNOWN" for an
// unrecognized opcode. Unrecognized opcodes are a protocol error per spec
// §7 and must be tolerated as a TEST_RUNNING-equivalent no-op by callers,
// never rejected here.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IgnorePeerIO is the set of server states during which the schedule poll
// for unsolicited peer opcodes is skipped and outbound writes proceed
// unconditionally (spec §4.6).
var IgnorePeerIO = map[State]bool{
	ExchangeResults: true,
	DisplayResults:  true,
	TestEnd:         true,
}
