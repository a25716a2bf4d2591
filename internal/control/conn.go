package control

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cambridgegreys/goiperf/internal/wire"
)

// ErrWouldBlock is returned by TryRecvState when no opcode byte is
// currently available on the socket.
var ErrWouldBlock = errors.New("control: would block")

// ErrTransport wraps a transport-level failure on the control socket:
// connection refused/reset, broken pipe, or another I/O error that should
// mark the channel inactive (spec §7).
type ErrTransport struct {
	Op  string
	Err error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("control: %s: %v", e.Op, e.Err)
}

func (e *ErrTransport) Unwrap() error { return e.Err }

// Conn wraps a net.Conn with the control-channel framing: single-byte
// opcodes and length-prefixed JSON frames. It is single-owner: the FSM
// engine is the only writer and reader, so no internal locking is needed
// (spec §5 "Control socket: single-owner").
type Conn struct {
	netConn net.Conn
}

// NewConn wraps an already-connected net.Conn.
func NewConn(c net.Conn) *Conn {
	return &Conn{netConn: c}
}

// Raw returns the underlying net.Conn, e.g. for SetReadDeadline from
// outside this package or for reading the raw cookie preamble.
func (c *Conn) Raw() net.Conn { return c.netConn }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.netConn.Close() }

// SendState writes a single signed-byte opcode.
func (c *Conn) SendState(s State) error {
	_, err := c.netConn.Write([]byte{byte(int8(s))})
	if err != nil {
		return &ErrTransport{Op: "send state", Err: err}
	}
	return nil
}

// RecvState blocks for exactly one opcode byte.
func (c *Conn) RecvState() (State, error) {
	var buf [1]byte
	n, err := c.netConn.Read(buf[:])
	if err != nil {
		return 0, &ErrTransport{Op: "recv state", Err: err}
	}
	if n != 1 {
		return 0, &ErrTransport{Op: "recv state", Err: fmt.Errorf("short read of %d bytes", n)}
	}
	return State(int8(buf[0])), nil
}

// TryRecvState performs a non-blocking poll for one opcode byte, using a
// near-zero read deadline. If nothing is available it returns ErrWouldBlock
// rather than blocking, so the server schedule loop of spec §4.6 can check
// for unsolicited peer transitions without stalling on the scheduled sleep.
func (c *Conn) TryRecvState() (State, error) {
	if err := c.netConn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, &ErrTransport{Op: "set read deadline", Err: err}
	}
	defer c.netConn.SetReadDeadline(time.Time{})

	var buf [1]byte
	n, err := c.netConn.Read(buf[:])
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, ErrWouldBlock
		}
		return 0, &ErrTransport{Op: "recv state (non-blocking)", Err: err}
	}
	if n != 1 {
		return 0, ErrWouldBlock
	}
	return State(int8(buf[0])), nil
}

// SendJSON writes v as a length-prefixed JSON frame.
func (c *Conn) SendJSON(v any) error {
	if err := wire.SendJSON(c.netConn, v); err != nil {
		return &ErrTransport{Op: "send json", Err: err}
	}
	return nil
}

// RecvJSON reads a length-prefixed JSON frame into v.
func (c *Conn) RecvJSON(v any) error {
	if err := wire.RecvJSON(c.netConn, v); err != nil {
		return &ErrTransport{Op: "recv json", Err: err}
	}
	return nil
}

// SendCookie writes the raw, unframed 37-byte session cookie. Must be
// called before any state byte (spec §4.2).
func (c *Conn) SendCookie(cookie [CookieLen]byte) error {
	_, err := c.netConn.Write(cookie[:])
	if err != nil {
		return &ErrTransport{Op: "send cookie", Err: err}
	}
	return nil
}

// RecvCookie reads exactly 37 bytes of cookie. The server stores these as
// session identity without validating the alphabet (spec §8 S5: cookie
// rejection is not a thing — the cookie is identity, not authorization).
func (c *Conn) RecvCookie() ([CookieLen]byte, error) {
	var cookie [CookieLen]byte
	n, err := io.ReadFull(c.netConn, cookie[:])
	if err != nil {
		return cookie, &ErrTransport{Op: "recv cookie", Err: err}
	}
	if n != CookieLen {
		return cookie, &ErrTransport{Op: "recv cookie", Err: fmt.Errorf("short read of %d bytes", n)}
	}
	return cookie, nil
}
