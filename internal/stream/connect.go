package stream

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/cambridgegreys/goiperf/internal/control"
)

// UDPConnectMsg and UDPConnectReply are the 4-byte UDP connect handshake
// constants. They are deliberately encoded in host byte order, not network
// byte order — a reference quirk preserved verbatim (spec §3, §9).
const (
	UDPConnectMsg   uint32 = 0x36373839
	UDPConnectReply uint32 = 0x39383736
)

// ConnectUDP dials the data-port endpoint, performs the UDP connect
// handshake, and returns the connected socket. The socket stays in Go's
// normal blocking mode; stream workers bound each Read/Write with a short
// deadline (pollTimeout) instead of switching it to non-blocking.
func ConnectUDP(addr string) (net.Conn, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("stream: dial udp %s: %w", addr, err)
	}

	var sendBuf [4]byte
	binary.NativeEndian.PutUint32(sendBuf[:], UDPConnectMsg)
	if _, err := conn.Write(sendBuf[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream: send udp connect msg: %w", err)
	}

	var recvBuf [4]byte
	if _, err := readFull(conn, recvBuf[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream: recv udp connect reply: %w", err)
	}
	if got := binary.NativeEndian.Uint32(recvBuf[:]); got != UDPConnectReply {
		conn.Close()
		return nil, fmt.Errorf("stream: unexpected udp connect reply 0x%x", got)
	}

	return conn, nil
}

// ConnectTCP dials the data-port endpoint and sends the 37-byte session
// cookie as an unframed preamble.
func ConnectTCP(addr string, cookie [control.CookieLen]byte) (net.Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("stream: dial tcp %s: %w", addr, err)
	}
	if _, err := conn.Write(cookie[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream: send cookie: %w", err)
	}
	return conn, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
